package docs

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

const clientTimeout = 10 * time.Second

// Client is the HTTP implementation of Gateway, speaking to the document
// service's internal API.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient creates a gateway client for the service at baseURL.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: clientTimeout},
	}
}

func (c *Client) GetDocument(ctx context.Context, documentID, principalID string) (*Document, error) {
	u := fmt.Sprintf("%s/internal/documents/%s?principal=%s",
		c.baseURL, url.PathEscape(documentID), url.QueryEscape(principalID))

	var doc Document
	if err := c.do(ctx, http.MethodGet, u, nil, &doc); err != nil {
		return nil, err
	}
	return &doc, nil
}

func (c *Client) UpdateDocument(ctx context.Context, documentID, principalID string, title, body *string) (*Document, error) {
	u := fmt.Sprintf("%s/internal/documents/%s?principal=%s",
		c.baseURL, url.PathEscape(documentID), url.QueryEscape(principalID))

	payload := struct {
		Title *string `json:"title,omitempty"`
		Body  *string `json:"body,omitempty"`
	}{Title: title, Body: body}

	var doc Document
	if err := c.do(ctx, http.MethodPatch, u, payload, &doc); err != nil {
		return nil, err
	}
	return &doc, nil
}

func (c *Client) AppendEditHistory(ctx context.Context, entry *HistoryEntry) error {
	u := fmt.Sprintf("%s/internal/documents/%s/history", c.baseURL, url.PathEscape(entry.DocumentID))
	return c.do(ctx, http.MethodPost, u, entry, nil)
}

func (c *Client) CanEdit(ctx context.Context, principalID, documentID string) error {
	u := fmt.Sprintf("%s/internal/documents/%s/can-edit?principal=%s",
		c.baseURL, url.PathEscape(documentID), url.QueryEscape(principalID))
	return c.do(ctx, http.MethodGet, u, nil, nil)
}

func (c *Client) do(ctx context.Context, method, u string, payload, out any) error {
	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrTransient, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return ErrNotFound
	case resp.StatusCode == http.StatusForbidden:
		return ErrPermissionDenied
	case resp.StatusCode >= 500:
		return fmt.Errorf("%w: status %d", ErrTransient, resp.StatusCode)
	case resp.StatusCode >= 400:
		return fmt.Errorf("data gateway rejected request: status %d", resp.StatusCode)
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("%w: undecodable response: %v", ErrTransient, err)
		}
	}
	return nil
}
