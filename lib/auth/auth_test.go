package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/tarancss/nftmarket/lib/store"
)

func TestSignVerify(t *testing.T) {
	a, err := New("secret")
	require.NoError(t, err)

	token, err := a.Sign("0xABCDEF0000000000000000000000000000000001", store.RoleAdmin, time.Minute)
	require.NoError(t, err)

	c, err := a.Verify(token)
	require.NoError(t, err)
	require.Equal(t, "0xabcdef0000000000000000000000000000000001", c.Address)
	require.Equal(t, store.RoleAdmin, c.Role)

	// other secret
	b, _ := New("other")
	_, err = b.Verify(token)
	require.ErrorIs(t, err, ErrInvalidToken)

	// expired
	a.now = func() time.Time { return time.Now().Add(-time.Hour) }
	old, err := a.Sign("0x01", store.RoleUser, time.Minute)
	require.NoError(t, err)
	a.now = time.Now
	_, err = a.Verify(old)
	require.ErrorIs(t, err, ErrInvalidToken)

	_, err = New("")
	require.ErrorIs(t, err, ErrNoSecret)
}

func TestMiddleware(t *testing.T) {
	a, _ := New("secret")
	token, _ := a.Sign("0x01", store.RoleWorker, time.Minute)

	h := a.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, ok := FromContext(r.Context())
		require.True(t, ok)
		require.Equal(t, store.RoleWorker, c.Role)
		w.WriteHeader(http.StatusNoContent)
	}))

	cases := []struct {
		header string
		status int
	}{
		{"", http.StatusUnauthorized},
		{"Basic abc", http.StatusUnauthorized},
		{"Bearer garbage", http.StatusUnauthorized},
		{"Bearer " + token, http.StatusNoContent},
	}

	for i, c := range cases {
		req := httptest.NewRequest(http.MethodPost, "/worker", nil)
		if c.header != "" {
			req.Header.Set("Authorization", c.header)
		}
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		if rec.Code != c.status {
			t.Errorf("[%d] expected %d got %d", i, c.status, rec.Code)
		}
	}
}
