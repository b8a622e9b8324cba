package walletpay

import (
	"context"
	"encoding/base64"
	"net/http"
	"sync"
	"time"

	"github.com/aq2208/gcheckout/internal/apperr"
	"github.com/aq2208/gcheckout/internal/transport"
)

// tokenSource fetches OAuth client-credentials tokens and caches them until
// shortly before they expire.
type tokenSource struct {
	client *transport.Client
	basic  string

	mu      sync.Mutex
	token   string
	expires time.Time
	now     func() time.Time
}

const expirySkew = 60 * time.Second

func newTokenSource(c *transport.Client, clientID, secret string) *tokenSource {
	return &tokenSource{
		client: c,
		basic:  base64.StdEncoding.EncodeToString([]byte(clientID + ":" + secret)),
		now:    time.Now,
	}
}

func (t *tokenSource) Token(ctx context.Context) (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.token != "" && t.now().Before(t.expires) {
		return t.token, nil
	}
	resp, err := t.client.Do(ctx, transport.Request{
		Method: http.MethodPost,
		Path:   "/v1/oauth2/token",
		Body:   []byte("grant_type=client_credentials"),
		Headers: map[string]string{
			"Authorization": "Basic " + t.basic,
			"Content-Type":  "application/x-www-form-urlencoded",
		},
	})
	if err != nil {
		return "", err
	}
	var tr struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int64  `json:"expires_in"`
	}
	if err := resp.JSON(&tr); err != nil {
		return "", err
	}
	if tr.AccessToken == "" {
		return "", apperr.Protocol("token response without access_token", nil)
	}
	ttl := time.Duration(tr.ExpiresIn) * time.Second
	if ttl > expirySkew {
		ttl -= expirySkew
	}
	t.token = tr.AccessToken
	t.expires = t.now().Add(ttl)
	return t.token, nil
}

func (t *tokenSource) Invalidate() {
	t.mu.Lock()
	t.token = ""
	t.mu.Unlock()
}
