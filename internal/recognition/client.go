// Package recognition is the typed façade over the remote face service.
// The service owns a single named collection of indexed faces keyed by
// child identity; this client never inspects untyped provider responses.
package recognition

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/tatsuro-shizuoka/sodachi-biyori-sub001/internal/config"
)

// ErrNoFaceDetected is returned by IndexFace when the provider finds zero
// or ambiguous faces in the image. Callers surface this as a user-facing
// validation error, not a system failure.
var ErrNoFaceDetected = errors.New("recognition: no indexable face detected")

// Match is one search candidate above the similarity threshold.
type Match struct {
	OwnerKey   string  `json:"owner_key"` // childId the face was indexed under
	FaceID     string  `json:"face_id"`
	Similarity float64 `json:"similarity"` // 0-100
}

type Client struct {
	baseURL    string
	apiKey     string
	collection string
	http       *http.Client
}

func NewClient(cfg config.RecognitionConfig) *Client {
	return &Client{
		baseURL:    cfg.BaseURL,
		apiKey:     cfg.APIKey,
		collection: cfg.Collection,
		http:       &http.Client{Timeout: cfg.Timeout},
	}
}

// EnsureCollection creates the named collection if absent. Idempotent;
// safe to call on every run.
func (c *Client) EnsureCollection(ctx context.Context) error {
	body, _ := json.Marshal(map[string]string{"collection": c.collection})
	resp, err := c.post(ctx, "/collections", body)
	if err != nil {
		return fmt.Errorf("ensure collection: %w", err)
	}
	defer resp.Body.Close()

	// 409 = already exists, which is the normal steady state.
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated &&
		resp.StatusCode != http.StatusConflict {
		return fmt.Errorf("ensure collection: unexpected status %d", resp.StatusCode)
	}
	return nil
}

type indexRequest struct {
	Collection string `json:"collection"`
	OwnerKey   string `json:"owner_key"`
	Image      string `json:"image"` // base64
}

type indexResponse struct {
	FaceID    string `json:"face_id"`
	FaceCount int    `json:"face_count"`
}

// IndexFace submits one image under ownerKey and returns the minted faceId.
func (c *Client) IndexFace(ctx context.Context, ownerKey string, image []byte) (string, error) {
	body, err := json.Marshal(indexRequest{
		Collection: c.collection,
		OwnerKey:   ownerKey,
		Image:      base64.StdEncoding.EncodeToString(image),
	})
	if err != nil {
		return "", fmt.Errorf("marshal index request: %w", err)
	}

	resp, err := c.post(ctx, "/faces", body)
	if err != nil {
		return "", fmt.Errorf("index face: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnprocessableEntity {
		return "", ErrNoFaceDetected
	}
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return "", fmt.Errorf("index face: unexpected status %d", resp.StatusCode)
	}

	var r indexResponse
	if err := json.NewDecoder(resp.Body).Decode(&r); err != nil {
		return "", fmt.Errorf("decode index response: %w", err)
	}
	if r.FaceID == "" || r.FaceCount != 1 {
		return "", ErrNoFaceDetected
	}
	return r.FaceID, nil
}

type searchRequest struct {
	Collection    string  `json:"collection"`
	Image         string  `json:"image"`
	MinSimilarity float64 `json:"min_similarity"`
}

type searchResponse struct {
	Matches []Match `json:"matches"`
}

// SearchFaces returns candidate matches above minSimilarity, ordered by
// descending similarity. An empty slice is a valid "no match" result.
func (c *Client) SearchFaces(ctx context.Context, image []byte, minSimilarity float64) ([]Match, error) {
	body, err := json.Marshal(searchRequest{
		Collection:    c.collection,
		Image:         base64.StdEncoding.EncodeToString(image),
		MinSimilarity: minSimilarity,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal search request: %w", err)
	}

	resp, err := c.post(ctx, "/faces/search", body)
	if err != nil {
		return nil, fmt.Errorf("search faces: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("search faces: unexpected status %d", resp.StatusCode)
	}

	var r searchResponse
	if err := json.NewDecoder(resp.Body).Decode(&r); err != nil {
		return nil, fmt.Errorf("decode search response: %w", err)
	}
	return r.Matches, nil
}

// RemoveFace deletes a face from the collection. Callers treat failures as
// best-effort cleanup: log and proceed.
func (c *Client) RemoveFace(ctx context.Context, faceID string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete,
		c.baseURL+"/faces/"+faceID+"?collection="+c.collection, nil)
	if err != nil {
		return fmt.Errorf("build remove request: %w", err)
	}
	c.setHeaders(req)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("remove face %s: %w", faceID, err)
	}
	defer resp.Body.Close()

	// A face already gone is fine — removal only needs to invalidate.
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNoContent &&
		resp.StatusCode != http.StatusNotFound {
		return fmt.Errorf("remove face %s: unexpected status %d", faceID, resp.StatusCode)
	}
	return nil
}

func (c *Client) post(ctx context.Context, path string, body []byte) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	c.setHeaders(req)
	return c.http.Do(req)
}

func (c *Client) setHeaders(req *http.Request) {
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
}
