package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

// Remote delegates to the external token service over HTTP. Any non-2xx
// status, transport error or malformed body means "unauthenticated",
// never an error that could take a request down.
type Remote struct {
	baseURL string
	client  *http.Client
}

func NewRemote(baseURL string) *Remote {
	return &Remote{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: 5 * time.Second},
	}
}

func (r *Remote) Verify(ctx context.Context, token string) (Claims, bool) {
	if token == "" {
		return Claims{}, false
	}
	body, _ := json.Marshal(map[string]string{"token": token})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.baseURL+"/token/verify", bytes.NewReader(body))
	if err != nil {
		return Claims{}, false
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		log.Warn().Err(err).Str("module", "auth").Msg("verifier unreachable, denying")
		return Claims{}, false
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return Claims{}, false
	}
	var out struct {
		Sub string `json:"sub"`
		Exp int64  `json:"exp"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil || out.Sub == "" {
		return Claims{}, false
	}
	expiry := time.Unix(out.Exp, 0)
	if !expiry.After(time.Now()) {
		return Claims{}, false
	}
	return Claims{Subject: out.Sub, Expiry: expiry}, true
}

func (r *Remote) Issue(ctx context.Context, subject string, ttl time.Duration) (string, error) {
	if ttl <= 0 {
		ttl = time.Hour
	}
	body, _ := json.Marshal(map[string]any{"sub": subject, "exp_seconds": int64(ttl.Seconds())})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.baseURL+"/token", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("token service: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", fmt.Errorf("token service: status %d", resp.StatusCode)
	}
	var out struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil || out.Token == "" {
		return "", fmt.Errorf("token service: malformed response")
	}
	return out.Token, nil
}
