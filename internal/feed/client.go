package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/lumimeds/realtime/internal/session"
)

// HistoryClient is the external REST collaborator: a paginated list
// endpoint plus the bulk mark-as-read mutation, per stream.
type HistoryClient interface {
	ListPage(ctx context.Context, stream string, page, limit int) (*Page, error)
	MarkAllRead(ctx context.Context, stream string) error
}

// restClient implements HistoryClient against the portal's REST API.
type restClient struct {
	baseURL *url.URL
	creds   session.CredentialProvider
	http    *http.Client
}

var _ HistoryClient = (*restClient)(nil)

// NewRESTClient builds a HistoryClient against the given origin.
func NewRESTClient(baseURL string, creds session.CredentialProvider) (HistoryClient, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	return &restClient{
		baseURL: u,
		creds:   creds,
		http:    &http.Client{Timeout: 15 * time.Second},
	}, nil
}

// ListPage implements HistoryClient.ListPage
func (c *restClient) ListPage(ctx context.Context, stream string, page, limit int) (*Page, error) {
	u := *c.baseURL
	u.Path = "/api/v1/streams/" + stream
	q := url.Values{}
	q.Set("page", strconv.Itoa(page))
	q.Set("limit", strconv.Itoa(limit))
	u.RawQuery = q.Encode()

	req, err := c.newRequest(ctx, http.MethodGet, u.String())
	if err != nil {
		return nil, err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("list %s page %d: %w", stream, page, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("list %s page %d: unexpected status %d", stream, page, resp.StatusCode)
	}

	var p Page
	if err := json.NewDecoder(resp.Body).Decode(&p); err != nil {
		return nil, fmt.Errorf("decode %s page %d: %w", stream, page, err)
	}
	return &p, nil
}

// MarkAllRead implements HistoryClient.MarkAllRead
func (c *restClient) MarkAllRead(ctx context.Context, stream string) error {
	u := *c.baseURL
	u.Path = "/api/v1/streams/" + stream + "/read-all"

	req, err := c.newRequest(ctx, http.MethodPost, u.String())
	if err != nil {
		return err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("mark %s read: %w", stream, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNoContent {
		return fmt.Errorf("mark %s read: unexpected status %d", stream, resp.StatusCode)
	}
	return nil
}

func (c *restClient) newRequest(ctx context.Context, method, url string) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	token, err := c.creds.Token(ctx)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")
	return req, nil
}
