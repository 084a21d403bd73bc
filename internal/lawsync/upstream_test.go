package lawsync

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func newGitHubServer(t *testing.T) *GitHubUpstream {
	t.Helper()
	mux := http.NewServeMux()
	writeJSON := func(w http.ResponseWriter, status int, payload any) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(payload)
	}
	mux.HandleFunc("/repos/woodland/law/contents/rules/en_US", func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("ref"); got != "main" {
			t.Errorf("ref = %q, want main", got)
		}
		writeJSON(w, http.StatusOK, []map[string]any{
			{"name": "p7", "path": "rules/en_US/p7", "type": "dir", "sha": "d7"},
			{"name": "README.md", "path": "rules/en_US/README.md", "type": "file", "sha": "r1"},
		})
	})
	mux.HandleFunc("/repos/woodland/law/contents/rules/en_US/p7/law.yml", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"type":     "file",
			"name":     "law.yml",
			"path":     "rules/en_US/p7/law.yml",
			"sha":      "abc123",
			"encoding": "base64",
			"content":  base64.StdEncoding.EncodeToString([]byte("- name: Core Rules\n")),
		})
	})
	mux.HandleFunc("/repos/woodland/law/contents/rules/fr_FR", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusForbidden, map[string]any{"message": "Bad credentials"})
	})
	mux.HandleFunc("/repos/woodland/law/commits", func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("path"); got != "rules/en_US/p7/law.yml" {
			t.Errorf("path = %q", got)
		}
		writeJSON(w, http.StatusOK, []map[string]any{
			{"sha": "c1", "commit": map[string]any{"committer": map[string]any{"name": "bot", "date": "2024-05-01T10:00:00Z"}}},
		})
	})
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusNotFound, map[string]any{"message": "Not Found"})
	})
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)

	upstream, err := NewGitHubUpstream(GitHubConfig{Owner: "woodland", Repo: "law", Ref: "main", BaseURL: server.URL, Timeout: 5 * time.Second})
	if err != nil {
		t.Fatalf("NewGitHubUpstream() error = %v", err)
	}
	return upstream
}

func TestGitHubUpstreamListDir(t *testing.T) {
	upstream := newGitHubServer(t)
	entries, err := upstream.ListDir(context.Background(), "rules/en_US")
	if err != nil {
		t.Fatalf("ListDir() error = %v", err)
	}
	if len(entries) != 2 || !entries[0].IsDir() || entries[0].Name != "p7" || entries[1].SHA != "r1" {
		t.Fatalf("ListDir() = %+v", entries)
	}
}

func TestGitHubUpstreamNotFoundIsEmpty(t *testing.T) {
	upstream := newGitHubServer(t)
	entries, err := upstream.ListDir(context.Background(), "rules/de_DE")
	if err != nil {
		t.Fatalf("ListDir() error = %v", err)
	}
	if entries != nil {
		t.Fatalf("ListDir() = %+v, want nil", entries)
	}
	file, err := upstream.GetFile(context.Background(), "rules/de_DE/p1/law.yml")
	if err != nil || file != nil {
		t.Fatalf("GetFile() = %+v, %v; want nil, nil", file, err)
	}
}

func TestGitHubUpstreamForbidden(t *testing.T) {
	upstream := newGitHubServer(t)
	_, err := upstream.ListDir(context.Background(), "rules/fr_FR")
	if !errors.Is(err, ErrUpstreamForbidden) {
		t.Fatalf("ListDir() error = %v, want ErrUpstreamForbidden", err)
	}
	var upstreamErr *UpstreamError
	if !errors.As(err, &upstreamErr) || upstreamErr.Status != http.StatusForbidden {
		t.Fatalf("error = %#v, want UpstreamError with status 403", err)
	}
}

func TestGitHubUpstreamGetFileAndCommitDate(t *testing.T) {
	upstream := newGitHubServer(t)
	ctx := context.Background()

	file, err := upstream.GetFile(ctx, "rules/en_US/p7/law.yml")
	if err != nil {
		t.Fatalf("GetFile() error = %v", err)
	}
	if file == nil || file.SHA != "abc123" || string(file.Content) != "- name: Core Rules\n" {
		t.Fatalf("GetFile() = %+v", file)
	}

	date, err := upstream.LatestCommitDate(ctx, "rules/en_US/p7/law.yml")
	if err != nil {
		t.Fatalf("LatestCommitDate() error = %v", err)
	}
	if want := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC); !date.Equal(want) {
		t.Fatalf("LatestCommitDate() = %v, want %v", date, want)
	}
}
