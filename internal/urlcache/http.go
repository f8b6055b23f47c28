package urlcache

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/lumimeds/realtime/internal/session"
)

// NewHTTPFetch builds a FetchFunc against the portal's signed-URL endpoint:
// GET {base}/api/v1/attachments/{key}/url returning {"url": "..."}.
func NewHTTPFetch(baseURL string, creds session.CredentialProvider) (FetchFunc, error) {
	base, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	client := &http.Client{Timeout: 10 * time.Second}

	return func(ctx context.Context, key string) (string, error) {
		u := *base
		u.Path = "/api/v1/attachments/" + url.PathEscape(key) + "/url"

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
		if err != nil {
			return "", fmt.Errorf("build request: %w", err)
		}
		token, err := creds.Token(ctx)
		if err != nil {
			return "", err
		}
		req.Header.Set("Authorization", "Bearer "+token)

		resp, err := client.Do(req)
		if err != nil {
			return "", fmt.Errorf("resolve %s: %w", key, err)
		}
		defer func() { _ = resp.Body.Close() }()

		if resp.StatusCode != http.StatusOK {
			return "", fmt.Errorf("resolve %s: unexpected status %d", key, resp.StatusCode)
		}

		var body struct {
			URL string `json:"url"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
			return "", fmt.Errorf("decode %s: %w", key, err)
		}
		if body.URL == "" {
			return "", fmt.Errorf("resolve %s: empty url in response", key)
		}
		return body.URL, nil
	}, nil
}
