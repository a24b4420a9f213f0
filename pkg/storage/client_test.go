package storage

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/crowdforge/escrow-engine/pkg/errors"
	"github.com/crowdforge/escrow-engine/pkg/logging"
)

func newTestClient(t *testing.T) *Client {
	t.Helper()
	logger, err := logging.NewColoredLogger(logging.ComponentStorage, false)
	if err != nil {
		t.Fatalf("failed to create logger: %v", err)
	}
	return NewClient(logger, 5*time.Second)
}

func TestDownload(t *testing.T) {
	body := []byte(`{"ok":true}`)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(body)
	}))
	defer srv.Close()

	got, err := newTestClient(t).Download(context.Background(), srv.URL+"/results.json")
	if err != nil {
		t.Fatalf("download failed: %v", err)
	}
	if string(got) != string(body) {
		t.Errorf("blob = %s", got)
	}
}

func TestDownloadNonOKStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer srv.Close()

	_, err := newTestClient(t).Download(context.Background(), srv.URL)
	if !errors.HasCode(err, errors.CodeUpstreamData) {
		t.Fatalf("expected upstream data error, got %v", err)
	}
}

func TestDownloadVerified(t *testing.T) {
	body := []byte(`[{"workerAddress":"0x1"}]`)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(body)
	}))
	defer srv.Close()

	client := newTestClient(t)

	got, err := client.DownloadVerified(context.Background(), srv.URL, ContentHash(body))
	if err != nil {
		t.Fatalf("verified download failed: %v", err)
	}
	if string(got) != string(body) {
		t.Errorf("blob = %s", got)
	}

	// 0x-prefixed hashes are accepted too.
	if _, err := client.DownloadVerified(context.Background(), srv.URL, "0x"+ContentHash(body)); err != nil {
		t.Fatalf("prefixed hash rejected: %v", err)
	}

	_, err = client.DownloadVerified(context.Background(), srv.URL, "deadbeef")
	if !errors.HasCode(err, errors.CodeUpstreamData) {
		t.Fatalf("expected hash mismatch error, got %v", err)
	}

	// Empty expected hash skips verification.
	if _, err := client.DownloadVerified(context.Background(), srv.URL, ""); err != nil {
		t.Fatalf("unverified download failed: %v", err)
	}
}

func TestUpload(t *testing.T) {
	var received []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPut {
			t.Errorf("method = %s", r.Method)
		}
		received, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	blob := []byte(`{"final":true}`)
	hash, err := newTestClient(t).Upload(context.Background(), srv.URL+"/final.json", blob)
	if err != nil {
		t.Fatalf("upload failed: %v", err)
	}
	if string(received) != string(blob) {
		t.Errorf("server received %s", received)
	}
	if hash != ContentHash(blob) {
		t.Errorf("hash = %s, want %s", hash, ContentHash(blob))
	}
}
