package lawsync

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/go-github/v66/github"
)

// ErrUpstreamForbidden means the upstream refused the request (bad token or
// rate limit). It needs operator action and is never treated as empty.
var (
	ErrUpstreamForbidden = errors.New("upstream forbidden")
	ErrNoUpstream        = errors.New("no upstream configured")
)

// UpstreamError is a non-2xx answer from the upstream API.
type UpstreamError struct {
	Op     string
	Path   string
	Status int
	Err    error
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("upstream %s %s: status %d: %v", e.Op, e.Path, e.Status, e.Err)
}

func (e *UpstreamError) Unwrap() error {
	if e.Status == http.StatusForbidden {
		return ErrUpstreamForbidden
	}
	return e.Err
}

// Entry is one item of a directory listing.
type Entry struct {
	Name string
	Path string
	Type string
	SHA  string
}

func (e Entry) IsDir() bool { return e.Type == "dir" }

type File struct {
	Path    string
	SHA     string
	Content []byte
}

// Upstream is the versioned rules source. A missing path is not an error:
// ListDir and GetFile return nil results for it.
type Upstream interface {
	ListDir(ctx context.Context, path string) ([]Entry, error)
	GetFile(ctx context.Context, path string) (*File, error)
	LatestCommitDate(ctx context.Context, path string) (time.Time, error)
}

type GitHubConfig struct {
	Token   string
	Owner   string
	Repo    string
	Ref     string
	BaseURL string
	Timeout time.Duration
}

// GitHubUpstream reads rules from a GitHub repository through the contents
// and commits APIs.
type GitHubUpstream struct {
	client *github.Client
	owner  string
	repo   string
	ref    string
}

func NewGitHubUpstream(cfg GitHubConfig) (*GitHubUpstream, error) {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	client := github.NewClient(&http.Client{Timeout: timeout})
	if cfg.Token != "" {
		client = client.WithAuthToken(cfg.Token)
	}
	if cfg.BaseURL != "" {
		baseURL, err := url.Parse(strings.TrimSuffix(cfg.BaseURL, "/") + "/")
		if err != nil {
			return nil, fmt.Errorf("github base url: %w", err)
		}
		client.BaseURL = baseURL
	}
	return &GitHubUpstream{client: client, owner: cfg.Owner, repo: cfg.Repo, ref: cfg.Ref}, nil
}

func (g *GitHubUpstream) contents(ctx context.Context, op, path string) (*github.RepositoryContent, []*github.RepositoryContent, error) {
	var opts *github.RepositoryContentGetOptions
	if g.ref != "" {
		opts = &github.RepositoryContentGetOptions{Ref: g.ref}
	}
	file, dir, resp, err := g.client.Repositories.GetContents(ctx, g.owner, g.repo, path, opts)
	if err != nil {
		return nil, nil, classify(op, path, resp, err)
	}
	return file, dir, nil
}

func (g *GitHubUpstream) ListDir(ctx context.Context, path string) ([]Entry, error) {
	_, dir, err := g.contents(ctx, "list", path)
	if errors.Is(err, errNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	entries := make([]Entry, 0, len(dir))
	for _, item := range dir {
		entries = append(entries, Entry{
			Name: item.GetName(),
			Path: item.GetPath(),
			Type: item.GetType(),
			SHA:  item.GetSHA(),
		})
	}
	return entries, nil
}

func (g *GitHubUpstream) GetFile(ctx context.Context, path string) (*File, error) {
	file, _, err := g.contents(ctx, "get", path)
	if errors.Is(err, errNotFound) || (err == nil && file == nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	content, err := file.GetContent()
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	return &File{Path: file.GetPath(), SHA: file.GetSHA(), Content: []byte(content)}, nil
}

func (g *GitHubUpstream) LatestCommitDate(ctx context.Context, path string) (time.Time, error) {
	opts := &github.CommitsListOptions{Path: path, SHA: g.ref, ListOptions: github.ListOptions{PerPage: 1}}
	commits, resp, err := g.client.Repositories.ListCommits(ctx, g.owner, g.repo, opts)
	if err != nil {
		return time.Time{}, classify("commits", path, resp, err)
	}
	if len(commits) == 0 {
		return time.Time{}, fmt.Errorf("no commits for %s", path)
	}
	date := commits[0].GetCommit().GetCommitter().GetDate()
	if date.IsZero() {
		return time.Time{}, fmt.Errorf("commit for %s has no date", path)
	}
	return date.Time, nil
}

var errNotFound = errors.New("upstream not found")

// classify turns go-github failures into UpstreamError. Transport errors and
// timeouts have no response and are returned unchanged.
func classify(op, path string, resp *github.Response, err error) error {
	var rateErr *github.RateLimitError
	var abuseErr *github.AbuseRateLimitError
	if errors.As(err, &rateErr) || errors.As(err, &abuseErr) {
		return &UpstreamError{Op: op, Path: path, Status: http.StatusForbidden, Err: err}
	}
	if resp == nil || resp.Response == nil {
		return err
	}
	switch resp.StatusCode {
	case http.StatusNotFound:
		return errNotFound
	default:
		return &UpstreamError{Op: op, Path: path, Status: resp.StatusCode, Err: err}
	}
}
