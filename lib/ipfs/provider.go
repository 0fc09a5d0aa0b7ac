package ipfs

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/tarancss/nftmarket/lib/config"
)

// Provider types
const (
	SelfHost   = "self-host"
	Infura     = "infura"
	Pinata     = "pinata-cloud"
	NFTStorage = "nft-storage"
)

const requestTimeout = 30 * time.Second

// Provider uploads content to IPFS and returns its content id.
type Provider interface {
	Name() string
	Upload(ctx context.Context, name string, data []byte) (string, error)
}

// NewProvider returns the provider described in c.
func NewProvider(c config.IpfsProvider) (Provider, error) {
	client := &http.Client{Timeout: requestTimeout}
	endpoint := strings.TrimRight(c.Endpoint, "/")

	switch c.Type {
	case SelfHost:
		return &node{name: SelfHost, endpoint: endpoint, client: client}, nil
	case Infura:
		// the token is projectId:projectSecret
		user, pass, _ := strings.Cut(c.Token, ":")
		return &node{name: Infura, endpoint: endpoint, user: user, pass: pass, client: client}, nil
	case Pinata:
		return &pinata{endpoint: endpoint, token: c.Token, client: client}, nil
	case NFTStorage:
		return &nftStorage{endpoint: endpoint, token: c.Token, client: client}, nil
	}

	return nil, fmt.Errorf("%w: %s", ErrUnknownProvider, c.Type)
}

// node talks to the HTTP API of an IPFS node (kubo), either own or hosted by Infura.
type node struct {
	name       string
	endpoint   string
	user, pass string
	client     *http.Client
}

func (n *node) Name() string { return n.name }

func (n *node) Upload(ctx context.Context, name string, data []byte) (string, error) {
	req, err := multipartRequest(ctx, n.endpoint+"/api/v0/add?pin=true", name, data)
	if err != nil {
		return "", err
	}

	if n.user != "" {
		req.SetBasicAuth(n.user, n.pass)
	}

	var res struct {
		Hash string `json:"Hash"`
	}
	if err = do(n.client, req, &res); err != nil {
		return "", err
	}

	return res.Hash, nil
}

// pinata talks to the Pinata pinning API.
type pinata struct {
	endpoint string
	token    string
	client   *http.Client
}

func (p *pinata) Name() string { return Pinata }

func (p *pinata) Upload(ctx context.Context, name string, data []byte) (string, error) {
	req, err := multipartRequest(ctx, p.endpoint+"/pinning/pinFileToIPFS", name, data)
	if err != nil {
		return "", err
	}

	req.Header.Set("Authorization", "Bearer "+p.token)

	var res struct {
		IpfsHash string `json:"IpfsHash"`
	}
	if err = do(p.client, req, &res); err != nil {
		return "", err
	}

	return res.IpfsHash, nil
}

// nftStorage talks to the nft.storage upload API.
type nftStorage struct {
	endpoint string
	token    string
	client   *http.Client
}

func (s *nftStorage) Name() string { return NFTStorage }

func (s *nftStorage) Upload(ctx context.Context, name string, data []byte) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint+"/upload", bytes.NewReader(data))
	if err != nil {
		return "", err
	}

	req.Header.Set("Authorization", "Bearer "+s.token)
	req.Header.Set("Content-Type", "application/octet-stream")

	var res struct {
		OK    bool `json:"ok"`
		Value struct {
			Cid string `json:"cid"`
		} `json:"value"`
	}
	if err = do(s.client, req, &res); err != nil {
		return "", err
	}

	if !res.OK {
		return "", fmt.Errorf("%w: %s refused %s", ErrUpload, NFTStorage, name)
	}

	return res.Value.Cid, nil
}

func multipartRequest(ctx context.Context, url, name string, data []byte) (*http.Request, error) {
	var body bytes.Buffer

	w := multipart.NewWriter(&body)

	part, err := w.CreateFormFile("file", name)
	if err != nil {
		return nil, err
	}

	if _, err = part.Write(data); err != nil {
		return nil, err
	}

	if err = w.Close(); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, &body)
	if err != nil {
		return nil, err
	}

	req.Header.Set("Content-Type", w.FormDataContentType())

	return req, nil
}

// do sends req and decodes a 2xx JSON reply into v.
func do(client *http.Client, req *http.Request, v interface{}) error {
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 { //nolint:gomnd // 2xx
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512)) //nolint:gomnd // enough for an error message
		return fmt.Errorf("%w: %s %s", ErrUpload, resp.Status, strings.TrimSpace(string(msg)))
	}

	if err = json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("%w: cannot decode reply: %v", ErrUpload, err)
	}

	return nil
}
