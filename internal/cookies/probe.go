package cookies

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	"akash-router/internal/models"
	"akash-router/internal/upstream"
)

// ErrNoSessionToken means the probe succeeded but the upstream issued no session cookie.
var ErrNoSessionToken = errors.New("session probe returned no session token")

// Prober exchanges a clearance token for a fresh session token.
type Prober interface {
	Probe(ctx context.Context, existing models.CookieSet) (string, error)
}

// SessionProber calls the upstream session endpoint.
type SessionProber struct {
	client     *http.Client
	sessionURL string
	baseURL    string
}

// NewSessionProber returns a prober for sessionURL. baseURL feeds the Referer header.
func NewSessionProber(client *http.Client, sessionURL, baseURL string) *SessionProber {
	return &SessionProber{
		client:     client,
		sessionURL: sessionURL,
		baseURL:    baseURL,
	}
}

// Probe sends the clearance token plus any analytics cookies and returns the
// session token set by the response.
func (p *SessionProber) Probe(ctx context.Context, existing models.CookieSet) (string, error) {
	clearance := existing[models.CookieClearance]
	if clearance == "" {
		return "", fmt.Errorf("session probe: missing %s", models.CookieClearance)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.sessionURL, nil)
	if err != nil {
		return "", fmt.Errorf("construct session probe: %w", err)
	}
	upstream.SetBrowserHeaders(req.Header, p.baseURL, false)

	send := models.CookieSet{models.CookieClearance: clearance}
	for _, name := range models.OptionalCookies {
		if v := existing[name]; v != "" {
			send[name] = v
		}
	}
	upstream.AttachCookies(req, send)

	resp, err := p.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("session probe request: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64*1024))

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("session probe status %d", resp.StatusCode)
	}

	for _, c := range resp.Cookies() {
		if c.Name == models.CookieSession && c.Value != "" {
			return c.Value, nil
		}
	}
	return "", ErrNoSessionToken
}
