package delivery

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/tatsuro-shizuoka/sodachi-biyori-sub001/internal/config"
)

func testClient(url string) *Client {
	return NewClient(config.DeliveryConfig{
		BaseURL: url,
		APIKey:  "secret",
		Timeout: time.Second,
	})
}

func TestRenditionStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/videos/ext-1/rendition" {
			t.Errorf("path = %q", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer secret" {
			t.Errorf("auth header = %q", got)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"ready":false,"percent":40}`))
	}))
	defer srv.Close()

	r, err := testClient(srv.URL).RenditionStatus(context.Background(), "ext-1")
	if err != nil {
		t.Fatalf("RenditionStatus: %v", err)
	}
	if r.Ready || r.Percent != 40 {
		t.Errorf("rendition = %+v", r)
	}
}

func TestRenditionStatusNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	_, err := testClient(srv.URL).RenditionStatus(context.Background(), "ext-1")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestRequestRendition(t *testing.T) {
	var method string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		method = r.Method
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	if err := testClient(srv.URL).RequestRendition(context.Background(), "ext-1"); err != nil {
		t.Fatalf("RequestRendition: %v", err)
	}
	if method != http.MethodPost {
		t.Errorf("method = %q", method)
	}
}

func TestThumbnailAt(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("t"); got != "7.5" {
			t.Errorf("offset query = %q", got)
		}
		_, _ = w.Write([]byte("jpeg-bytes"))
	}))
	defer srv.Close()

	data, err := testClient(srv.URL).ThumbnailAt(context.Background(), "ext-1", 7.5)
	if err != nil {
		t.Fatalf("ThumbnailAt: %v", err)
	}
	if string(data) != "jpeg-bytes" {
		t.Errorf("data = %q", data)
	}
}

func TestThumbnailAtNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	_, err := testClient(srv.URL).ThumbnailAt(context.Background(), "ext-1", 0)
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}
