// Package gitrepo keeps a git history of every applied rules snapshot, one
// repository per language.
package gitrepo

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	git "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
)

const (
	rulesFile  = "rules.yml"
	mainBranch = "main"
)

type CommitInfo struct {
	Hash      string    `json:"hash"`
	Message   string    `json:"message"`
	Author    string    `json:"author"`
	CreatedAt time.Time `json:"createdAt"`
}

type Service struct {
	baseDir string
	lockMu  sync.Mutex
	locks   map[string]*sync.Mutex
}

func New(baseDir string) *Service {
	return &Service{
		baseDir: baseDir,
		locks:   make(map[string]*sync.Mutex),
	}
}

// CommitRules writes data as the rules document of language and commits it on
// main, tagging the commit with version when one is given. Committing content
// identical to the current head is a no-op that returns the head commit.
func (s *Service) CommitRules(language, version string, data []byte, author, message string) (CommitInfo, error) {
	lock := s.languageLock(language)
	lock.Lock()
	defer lock.Unlock()

	repo, err := s.ensureRepo(language)
	if err != nil {
		return CommitInfo{}, err
	}

	if head, err := headCommit(repo); err == nil {
		current, err := readRulesFromCommit(head)
		if err == nil && bytes.Equal(current, data) {
			return toCommitInfo(head), nil
		}
	}

	worktree, err := repo.Worktree()
	if err != nil {
		return CommitInfo{}, fmt.Errorf("open worktree: %w", err)
	}
	if err := os.WriteFile(filepath.Join(worktree.Filesystem.Root(), rulesFile), data, 0o644); err != nil {
		return CommitInfo{}, fmt.Errorf("write %s: %w", rulesFile, err)
	}
	if _, err := worktree.Add(rulesFile); err != nil {
		return CommitInfo{}, fmt.Errorf("git add rules: %w", err)
	}
	hash, err := worktree.Commit(message, &git.CommitOptions{
		Author: &object.Signature{
			Name:  author,
			Email: fmt.Sprintf("%s@rules.local", sanitizeEmail(author)),
			When:  time.Now(),
		},
	})
	if err != nil {
		return CommitInfo{}, fmt.Errorf("commit rules: %w", err)
	}

	if version != "" {
		_, err = repo.CreateTag(version, hash, &git.CreateTagOptions{
			Tagger: &object.Signature{
				Name:  "Law of Root",
				Email: "rules@localhost",
				When:  time.Now(),
			},
			Message: version,
		})
		if err != nil && !errors.Is(err, git.ErrTagExists) {
			return CommitInfo{}, fmt.Errorf("create tag: %w", err)
		}
	}

	commitObj, err := repo.CommitObject(hash)
	if err != nil {
		return CommitInfo{}, fmt.Errorf("read commit object: %w", err)
	}
	return toCommitInfo(commitObj), nil
}

// GetRules returns the rules document at revision, which may be an abbreviated
// hash, a version tag or empty for the head of main.
func (s *Service) GetRules(language, revision string) ([]byte, CommitInfo, error) {
	lock := s.languageLock(language)
	lock.Lock()
	defer lock.Unlock()

	repo, err := git.PlainOpen(s.repoPath(language))
	if err != nil {
		return nil, CommitInfo{}, fmt.Errorf("open repo: %w", err)
	}
	if revision == "" {
		revision = mainBranch
	}
	hash, err := repo.ResolveRevision(plumbing.Revision(revision))
	if err != nil {
		return nil, CommitInfo{}, fmt.Errorf("resolve revision %s: %w", revision, err)
	}
	commitObj, err := repo.CommitObject(*hash)
	if err != nil {
		return nil, CommitInfo{}, fmt.Errorf("read commit %s: %w", revision, err)
	}
	data, err := readRulesFromCommit(commitObj)
	if err != nil {
		return nil, CommitInfo{}, err
	}
	return data, toCommitInfo(commitObj), nil
}

func (s *Service) History(language string, limit int) ([]CommitInfo, error) {
	lock := s.languageLock(language)
	lock.Lock()
	defer lock.Unlock()

	repo, err := git.PlainOpen(s.repoPath(language))
	if errors.Is(err, git.ErrRepositoryNotExists) {
		return []CommitInfo{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open repo: %w", err)
	}
	head, err := headCommit(repo)
	if err != nil {
		return nil, err
	}

	iter, err := repo.Log(&git.LogOptions{From: head.Hash})
	if err != nil {
		return nil, fmt.Errorf("read log: %w", err)
	}
	defer iter.Close()

	items := make([]CommitInfo, 0, limit)
	err = iter.ForEach(func(commitObj *object.Commit) error {
		items = append(items, toCommitInfo(commitObj))
		if limit > 0 && len(items) >= limit {
			return io.EOF
		}
		return nil
	})
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("iterate log: %w", err)
	}
	return items, nil
}

func (s *Service) repoPath(language string) string {
	return filepath.Join(s.baseDir, filepath.Base(filepath.Clean("/"+language)))
}

func (s *Service) languageLock(language string) *sync.Mutex {
	s.lockMu.Lock()
	defer s.lockMu.Unlock()
	lock, ok := s.locks[language]
	if ok {
		return lock
	}
	lock = &sync.Mutex{}
	s.locks[language] = lock
	return lock
}

// ensureRepo opens the language repository, creating it with main as the
// default branch on first use.
func (s *Service) ensureRepo(language string) (*git.Repository, error) {
	path := s.repoPath(language)
	repo, err := git.PlainOpen(path)
	if err == nil {
		return repo, nil
	}
	if !errors.Is(err, git.ErrRepositoryNotExists) {
		return nil, fmt.Errorf("open repo: %w", err)
	}
	if err := os.MkdirAll(path, 0o755); err != nil {
		return nil, fmt.Errorf("create repo dir: %w", err)
	}
	repo, err = git.PlainInit(path, false)
	if err != nil {
		return nil, fmt.Errorf("init repo: %w", err)
	}
	if err := repo.Storer.SetReference(plumbing.NewSymbolicReference(plumbing.HEAD, plumbing.NewBranchReferenceName(mainBranch))); err != nil {
		return nil, fmt.Errorf("set HEAD to main: %w", err)
	}
	return repo, nil
}

func headCommit(repo *git.Repository) (*object.Commit, error) {
	ref, err := repo.Reference(plumbing.NewBranchReferenceName(mainBranch), true)
	if err != nil {
		return nil, fmt.Errorf("resolve branch %s: %w", mainBranch, err)
	}
	commitObj, err := repo.CommitObject(ref.Hash())
	if err != nil {
		return nil, fmt.Errorf("load commit object: %w", err)
	}
	return commitObj, nil
}

func readRulesFromCommit(commitObj *object.Commit) ([]byte, error) {
	file, err := commitObj.File(rulesFile)
	if err != nil {
		return nil, fmt.Errorf("load %s from commit: %w", rulesFile, err)
	}
	reader, err := file.Reader()
	if err != nil {
		return nil, fmt.Errorf("open rules reader: %w", err)
	}
	defer reader.Close()

	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("read rules bytes: %w", err)
	}
	return data, nil
}

func toCommitInfo(commitObj *object.Commit) CommitInfo {
	return CommitInfo{
		Hash:      commitObj.Hash.String()[:7],
		Message:   commitObj.Message,
		Author:    commitObj.Author.Name,
		CreatedAt: commitObj.Author.When,
	}
}

func sanitizeEmail(input string) string {
	runes := make([]rune, 0, len(input))
	for _, r := range input {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			runes = append(runes, r)
			continue
		}
		if r == ' ' || r == '-' || r == '_' {
			runes = append(runes, '.')
		}
	}
	if len(runes) == 0 {
		return "user"
	}
	return string(runes)
}
