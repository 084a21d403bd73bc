// Package lawsync keeps the law trees in step with the upstream rules
// repository: it fetches new rules snapshots, checks them structurally against
// the stored trees and applies them in one transaction.
package lawsync

import (
	"context"
	"fmt"
	"log"
	"path"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/timeers/root-website-sub000/internal/blobstore"
	"github.com/timeers/root-website-sub000/internal/gitrepo"
	"github.com/timeers/root-website-sub000/internal/laws"
	"github.com/timeers/root-website-sub000/internal/lock"
	"github.com/timeers/root-website-sub000/internal/notify"
	"github.com/timeers/root-website-sub000/internal/store"
	"github.com/timeers/root-website-sub000/internal/util"
)

// Archive records applied rules documents.
type Archive interface {
	CommitRules(language, version string, data []byte, author, message string) (gitrepo.CommitInfo, error)
}

type Options struct {
	// BasePath is the upstream directory holding one folder per locale.
	BasePath   string
	Extensions []string
}

// Deps are the collaborators of a Service. Repo and Blobs are required; the
// rest fall back to no-op or in-process defaults.
type Deps struct {
	Repo     store.Repository
	Blobs    blobstore.Store
	Upstream Upstream
	Locker   lock.Locker
	Archive  Archive
	Notifier notify.Notifier
	Metrics  *Metrics
	Hooks    []laws.Hook
	Logf     func(format string, args ...any)
}

type Service struct {
	repo     store.Repository
	blobs    blobstore.Store
	upstream Upstream
	locker   lock.Locker
	archive  Archive
	notifier notify.Notifier
	metrics  *Metrics
	hooks    []laws.Hook
	logf     func(format string, args ...any)
	opts     Options
	now      func() time.Time
}

func New(opts Options, deps Deps) *Service {
	if len(opts.Extensions) == 0 {
		opts.Extensions = []string{".yml", ".yaml"}
	}
	s := &Service{
		repo:     deps.Repo,
		blobs:    deps.Blobs,
		upstream: deps.Upstream,
		locker:   deps.Locker,
		archive:  deps.Archive,
		notifier: deps.Notifier,
		metrics:  deps.Metrics,
		hooks:    deps.Hooks,
		logf:     deps.Logf,
		opts:     opts,
		now:      time.Now,
	}
	if s.locker == nil {
		s.locker = lock.NewKeyedMutex()
	}
	if s.notifier == nil {
		s.notifier = notify.Nop{}
	}
	if s.metrics == nil {
		s.metrics = NewMetrics(nil)
	}
	if s.logf == nil {
		s.logf = log.Printf
	}
	return s
}

var versionSuffix = regexp.MustCompile(`^\D*(\d+)$`)

// ExtractVersionNumber returns the ordinal of a version folder such as p7 or
// p12. Names that are not a prefix followed by an integer yield -1.
func ExtractVersionNumber(name string) int {
	parts := versionSuffix.FindStringSubmatch(strings.TrimSpace(name))
	if parts == nil {
		return -1
	}
	n, err := strconv.Atoi(parts[1])
	if err != nil {
		return -1
	}
	return n
}

// latestVersion picks the directory with the highest ordinal. Ties keep the
// first entry in listing order.
func latestVersion(entries []Entry) (Entry, bool) {
	var best Entry
	bestOrdinal := -2
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		if ordinal := ExtractVersionNumber(entry.Name); ordinal > bestOrdinal {
			best, bestOrdinal = entry, ordinal
		}
	}
	return best, bestOrdinal > -2
}

func (s *Service) rulesFileEntry(entries []Entry) (Entry, bool) {
	for _, ext := range s.opts.Extensions {
		for _, entry := range entries {
			if entry.Type == "file" && strings.HasSuffix(strings.ToLower(entry.Name), ext) {
				return entry, true
			}
		}
	}
	return Entry{}, false
}

// SyncGithubRules fetches the newest rules snapshot for language and stores it
// as a New rules file. It reports false when the upstream has nothing new.
// Nothing is written before every network call has succeeded.
func (s *Service) SyncGithubRules(ctx context.Context, language store.Language) (bool, error) {
	if s.upstream == nil {
		return false, fmt.Errorf("sync %s: %w", language.Code, ErrNoUpstream)
	}
	versions, err := s.upstream.ListDir(ctx, path.Join(s.opts.BasePath, language.Locale))
	if err != nil {
		return false, fmt.Errorf("sync %s: %w", language.Code, err)
	}
	folder, ok := latestVersion(versions)
	if !ok {
		return false, nil
	}

	files, err := s.upstream.ListDir(ctx, folder.Path)
	if err != nil {
		return false, fmt.Errorf("sync %s: %w", language.Code, err)
	}
	entry, ok := s.rulesFileEntry(files)
	if !ok {
		return false, nil
	}

	existing, err := s.repo.ListRulesFiles(ctx, store.RulesFileFilter{Version: folder.Name, LanguageID: language.ID})
	if err != nil {
		return false, fmt.Errorf("sync %s: %w", language.Code, err)
	}
	if entry.SHA != "" && hasSHA(existing, entry.SHA) {
		return false, nil
	}

	file, err := s.upstream.GetFile(ctx, entry.Path)
	if err != nil {
		return false, fmt.Errorf("sync %s: %w", language.Code, err)
	}
	if file == nil {
		return false, nil
	}
	if hasSHA(existing, file.SHA) {
		return false, nil
	}
	commitDate, err := s.upstream.LatestCommitDate(ctx, entry.Path)
	if err != nil {
		s.logf("lawsync: commit date for %s: %v", entry.Path, err)
		commitDate = s.now()
	}

	rulesFile := store.RulesFile{
		Version:    folder.Name,
		SHA:        file.SHA,
		CommitDate: commitDate.UTC(),
		LanguageID: language.ID,
		Status:     store.RulesFileNew,
		FileKey:    util.ObjectKey("rules", language.Code, folder.Name, file.SHA+path.Ext(entry.Name)),
	}
	if err := s.blobs.Put(ctx, rulesFile.FileKey, file.Content, "application/yaml"); err != nil {
		return false, fmt.Errorf("sync %s: store blob: %w", language.Code, err)
	}
	if err := s.repo.InsertRulesFile(ctx, &rulesFile); err != nil {
		return false, fmt.Errorf("sync %s: %w", language.Code, err)
	}

	s.metrics.FilesFetched.Inc()
	s.notify(ctx, notify.Event{
		Kind:     notify.EventRulesFetched,
		Actor:    "sync",
		Language: language.Code,
		Title:    folder.Name,
		Detail:   "sha " + shortSHA(file.SHA),
	})
	return true, nil
}

func hasSHA(files []store.RulesFile, sha string) bool {
	for _, file := range files {
		if file.SHA == sha {
			return true
		}
	}
	return false
}

func shortSHA(sha string) string {
	if len(sha) > 7 {
		return sha[:7]
	}
	return sha
}

func (s *Service) notify(ctx context.Context, event notify.Event) {
	if err := s.notifier.Notify(ctx, event); err != nil {
		s.logf("lawsync: notify %s: %v", event.Kind, err)
	}
}
