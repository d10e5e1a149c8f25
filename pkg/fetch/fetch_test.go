package fetch

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
)

func TestDownloadFile(t *testing.T) {
	content := []byte("artifact bytes")
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(content)
	}))
	defer server.Close()

	tmpDir := t.TempDir()
	dest := filepath.Join(tmpDir, "sub", "artifact.bin")

	f := NewFetcher(nil)
	defer f.Close()

	if err := f.DownloadFile(context.Background(), server.URL, dest); err != nil {
		t.Fatalf("DownloadFile returned error: %v", err)
	}

	got, err := os.ReadFile(dest)
	if err != nil {
		t.Fatalf("Failed to read downloaded file: %v", err)
	}
	if string(got) != string(content) {
		t.Errorf("Downloaded content mismatch: got %q, want %q", got, content)
	}
}

func TestDownloadFileRemovesPartialOutputOnStatusError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "gone", http.StatusNotFound)
	}))
	defer server.Close()

	tmpDir := t.TempDir()
	dest := filepath.Join(tmpDir, "artifact.bin")

	f := NewFetcher(nil)
	defer f.Close()

	if err := f.DownloadFile(context.Background(), server.URL, dest); err == nil {
		t.Fatal("Expected error for 404 response")
	}

	if _, err := os.Stat(dest); !os.IsNotExist(err) {
		t.Errorf("Expected no output file after failed download, stat err: %v", err)
	}
}

func TestFetchIndexFallsBackAcrossMirrors(t *testing.T) {
	bad := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "broken mirror", http.StatusInternalServerError)
	}))
	defer bad.Close()

	index := `{"packages":{}}`
	good := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/"+IndexFileName {
			http.NotFound(w, r)
			return
		}
		w.Write([]byte(index))
	}))
	defer good.Close()

	stagingDir := filepath.Join(t.TempDir(), "repo")

	f := NewFetcher(nil)
	defer f.Close()

	if err := f.FetchIndex(context.Background(), []string{bad.URL, good.URL}, stagingDir); err != nil {
		t.Fatalf("FetchIndex returned error: %v", err)
	}

	got, err := os.ReadFile(filepath.Join(stagingDir, IndexFileName))
	if err != nil {
		t.Fatalf("Failed to read staged index: %v", err)
	}
	if string(got) != index {
		t.Errorf("Staged index mismatch: got %q", got)
	}

	url, err := os.ReadFile(filepath.Join(stagingDir, RepoURLFileName))
	if err != nil {
		t.Fatalf("Failed to read mirror marker: %v", err)
	}
	if string(url) != good.URL {
		t.Errorf("Expected mirror marker %q, got %q", good.URL, url)
	}
}

func TestFetchIndexAllMirrorsFail(t *testing.T) {
	bad := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "broken mirror", http.StatusInternalServerError)
	}))
	defer bad.Close()

	stagingDir := filepath.Join(t.TempDir(), "repo")

	f := NewFetcher(nil)
	defer f.Close()

	err := f.FetchIndex(context.Background(), []string{bad.URL, bad.URL}, stagingDir)
	if !errors.Is(err, ErrAllMirrorsFailed) {
		t.Fatalf("Expected ErrAllMirrorsFailed, got %v", err)
	}

	if _, err := os.Stat(filepath.Join(stagingDir, IndexFileName)); !os.IsNotExist(err) {
		t.Errorf("Expected no staged index after total failure, stat err: %v", err)
	}
}
