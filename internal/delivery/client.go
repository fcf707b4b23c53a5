// Package delivery is the typed client for the video delivery provider:
// upload storage, downloadable renditions and timestamped thumbnails.
package delivery

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"

	"github.com/tatsuro-shizuoka/sodachi-biyori-sub001/internal/config"
)

// ErrNotFound is returned when the provider has no thumbnail at the
// requested offset (or no such video).
var ErrNotFound = errors.New("delivery: not found")

// Rendition is the provider's report on a downloadable full-resolution copy.
type Rendition struct {
	Ready   bool   `json:"ready"`
	URL     string `json:"url,omitempty"`
	Percent int    `json:"percent"`
}

type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

func NewClient(cfg config.DeliveryConfig) *Client {
	return &Client{
		baseURL: cfg.BaseURL,
		apiKey:  cfg.APIKey,
		http:    &http.Client{Timeout: cfg.Timeout},
	}
}

// RenditionStatus queries the current rendition state for a video.
// A 404 means no rendition has been requested yet.
func (c *Client) RenditionStatus(ctx context.Context, externalID string) (*Rendition, error) {
	req, err := c.newRequest(ctx, http.MethodGet,
		"/videos/"+url.PathEscape(externalID)+"/rendition", nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("rendition status: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		return nil, ErrNotFound
	default:
		return nil, fmt.Errorf("rendition status: unexpected status %d", resp.StatusCode)
	}

	var r Rendition
	if err := json.NewDecoder(resp.Body).Decode(&r); err != nil {
		return nil, fmt.Errorf("decode rendition status: %w", err)
	}
	return &r, nil
}

// RequestRendition asks the provider to start encoding a downloadable copy.
// Fire-and-forget: the provider processes asynchronously.
func (c *Client) RequestRendition(ctx context.Context, externalID string) error {
	req, err := c.newRequest(ctx, http.MethodPost,
		"/videos/"+url.PathEscape(externalID)+"/rendition", nil)
	if err != nil {
		return err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("request rendition: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusAccepted {
		return fmt.Errorf("request rendition: unexpected status %d", resp.StatusCode)
	}
	return nil
}

// ThumbnailAt fetches the frame image at the given offset in seconds.
func (c *Client) ThumbnailAt(ctx context.Context, externalID string, offsetSeconds float64) ([]byte, error) {
	path := "/videos/" + url.PathEscape(externalID) + "/thumbnail?t=" +
		strconv.FormatFloat(offsetSeconds, 'f', -1, 64)
	req, err := c.newRequest(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("thumbnail at %.1fs: %w", offsetSeconds, err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		return nil, ErrNotFound
	default:
		return nil, fmt.Errorf("thumbnail at %.1fs: unexpected status %d", offsetSeconds, resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read thumbnail: %w", err)
	}
	return data, nil
}

func (c *Client) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	return req, nil
}
