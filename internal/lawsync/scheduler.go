package lawsync

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/timeers/root-website-sub000/internal/notify"
	"github.com/timeers/root-website-sub000/internal/store"
)

type languageLister interface {
	ListLanguages(ctx context.Context) ([]store.Language, error)
}

// Scheduler runs SyncGithubRules for every language on an interval. Each
// language is retried with exponential backoff; a 403 is not retried.
type Scheduler struct {
	Service   *Service
	Languages languageLister
	Interval  time.Duration
	Retries   int
	Backoff   time.Duration

	sleep func(ctx context.Context, d time.Duration) error
}

// Run syncs once immediately and then on every tick until ctx is done.
func (s *Scheduler) Run(ctx context.Context) error {
	interval := s.Interval
	if interval <= 0 {
		interval = 6 * time.Hour
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		if _, err := s.RunOnce(ctx); err != nil && ctx.Err() == nil {
			s.Service.logf("lawsync: scheduled sync: %v", err)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// RunOnce syncs every language and returns how many stored a new file. It
// stops between languages when ctx is cancelled.
func (s *Scheduler) RunOnce(ctx context.Context) (int, error) {
	languages, err := s.Languages.ListLanguages(ctx)
	if err != nil {
		return 0, fmt.Errorf("list languages: %w", err)
	}
	updated := 0
	for _, language := range languages {
		if err := ctx.Err(); err != nil {
			return updated, err
		}
		ok, err := s.syncLanguage(ctx, language)
		if err != nil {
			s.Service.metrics.SyncRuns.WithLabelValues(language.Code, "failed").Inc()
			s.Service.logf("lawsync: sync %s failed: %v", language.Code, err)
			s.Service.notify(ctx, notify.Event{
				Kind:     notify.EventSyncFailed,
				Actor:    "sync",
				Language: language.Code,
				Detail:   err.Error(),
			})
			continue
		}
		outcome := "unchanged"
		if ok {
			outcome = "updated"
			updated++
		}
		s.Service.metrics.SyncRuns.WithLabelValues(language.Code, outcome).Inc()
	}
	return updated, nil
}

func (s *Scheduler) syncLanguage(ctx context.Context, language store.Language) (bool, error) {
	sleep := s.sleep
	if sleep == nil {
		sleep = sleepContext
	}
	backoff := s.Backoff
	var lastErr error
	for attempt := 0; attempt <= s.Retries; attempt++ {
		if attempt > 0 {
			if err := sleep(ctx, backoff); err != nil {
				return false, err
			}
			backoff *= 2
		}
		ok, err := s.Service.SyncGithubRules(ctx, language)
		if err == nil {
			return ok, nil
		}
		lastErr = err
		if errors.Is(err, ErrUpstreamForbidden) || ctx.Err() != nil {
			break
		}
		s.Service.logf("lawsync: sync %s attempt %d: %v", language.Code, attempt+1, err)
	}
	return false, lastErr
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
