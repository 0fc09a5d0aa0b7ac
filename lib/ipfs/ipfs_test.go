package ipfs

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/tarancss/nftmarket/lib/config"
)

const cid = "QmYwAPJzv5CZsnA625s3Xf2nemtYgPpHdWEz79ojWnPbdG"

// server mocks the upload endpoints of every provider type.
func server(t *testing.T) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/v0/add":
			if user, pass, ok := r.BasicAuth(); ok && (user != "id" || pass != "secret") {
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
			if _, _, err := r.FormFile("file"); err != nil {
				t.Errorf("missing file err:%e", err)
			}
			_, _ = io.WriteString(w, `{"Name":"meta.json","Hash":"`+cid+`","Size":"12"}`)
		case "/pinning/pinFileToIPFS":
			if r.Header.Get("Authorization") != "Bearer jwt" {
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
			_, _ = io.WriteString(w, `{"IpfsHash":"`+cid+`","PinSize":12}`)
		case "/upload":
			body, _ := io.ReadAll(r.Body)
			if string(body) != `{"a":1}` {
				t.Errorf("unexpected body %s", body)
			}
			_, _ = io.WriteString(w, `{"ok":true,"value":{"cid":"`+cid+`"}}`)
		default:
			w.WriteHeader(http.StatusInternalServerError)
		}
	}))
}

func TestProviders(t *testing.T) {
	srv := server(t)
	defer srv.Close()

	cases := []struct {
		c   config.IpfsProvider
		err bool
	}{
		{config.IpfsProvider{Type: SelfHost, Endpoint: srv.URL}, false},
		{config.IpfsProvider{Type: Infura, Endpoint: srv.URL, Token: "id:secret"}, false},
		{config.IpfsProvider{Type: Infura, Endpoint: srv.URL, Token: "id:wrong"}, true},
		{config.IpfsProvider{Type: Pinata, Endpoint: srv.URL + "/", Token: "jwt"}, false},
		{config.IpfsProvider{Type: Pinata, Endpoint: srv.URL, Token: "bad"}, true},
		{config.IpfsProvider{Type: NFTStorage, Endpoint: srv.URL, Token: "key"}, false},
	}

	for i, c := range cases {
		p, err := NewProvider(c.c)
		if err != nil {
			t.Errorf("[%d] err:%e", i, err)
			continue
		}
		got, err := p.Upload(context.Background(), "meta.json", []byte(`{"a":1}`))
		if (err != nil) != c.err || (!c.err && got != cid) {
			t.Errorf("[%d] %s got %s err:%v", i, c.c.Type, got, err)
		}
	}

	if _, err := NewProvider(config.IpfsProvider{Type: "web3"}); !errors.Is(err, ErrUnknownProvider) {
		t.Errorf("expected unknown provider but got %v", err)
	}
}

// fake fails the first fails uploads.
type fake struct {
	name  string
	fails int
	calls int
}

func (f *fake) Name() string { return f.name }

func (f *fake) Upload(ctx context.Context, name string, data []byte) (string, error) {
	f.calls++
	if f.calls <= f.fails {
		return "", ErrUpload
	}
	return f.name + "-cid", nil
}

func TestGatewayRotation(t *testing.T) {
	a, b := &fake{name: "a", fails: 100}, &fake{name: "b", fails: 100}
	g, err := NewGateway([]Provider{a, b}, 3, time.Millisecond)
	if err != nil {
		t.Fatalf("err:%e", err)
	}

	if _, err = g.Upload(context.Background(), "f", nil); !errors.Is(err, ErrUpload) {
		t.Errorf("expected upload error but got %v", err)
	}
	// alternated between both providers
	if a.calls+b.calls != 3 || a.calls == 0 || b.calls == 0 {
		t.Errorf("unexpected calls a:%d b:%d", a.calls, b.calls)
	}

	// the second provider succeeds after the first fails once
	a, b = &fake{name: "a", fails: 1}, &fake{name: "b"}
	g, _ = NewGateway([]Provider{a, b}, 3, time.Millisecond)
	g.next = 0

	uri, err := g.UploadMetadata(context.Background(), "meta.json", map[string]string{"name": "n"})
	if err != nil || uri != "ipfs://b-cid" {
		t.Errorf("got %s err:%v", uri, err)
	}
}

func TestGatewayConfig(t *testing.T) {
	if _, err := New(config.IpfsConfig{}); !errors.Is(err, ErrNoProvider) {
		t.Errorf("expected no provider but got %v", err)
	}

	srv := server(t)
	defer srv.Close()

	g, err := New(config.IpfsConfig{Providers: []config.IpfsProvider{{Type: SelfHost, Endpoint: srv.URL}}})
	if err != nil {
		t.Fatalf("err:%e", err)
	}
	if g.retries != RetriesDefault || g.wait != WaitDefault {
		t.Errorf("defaults not applied %d %s", g.retries, g.wait)
	}

	uri, err := g.Upload(context.Background(), "img.png", []byte{0x89, 'P', 'N', 'G'})
	if err != nil || !strings.HasSuffix(uri, cid) {
		t.Errorf("got %s err:%v", uri, err)
	}
}
