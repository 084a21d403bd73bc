package app

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/timeers/root-website-sub000/internal/blobstore"
	"github.com/timeers/root-website-sub000/internal/config"
	"github.com/timeers/root-website-sub000/internal/gitrepo"
	"github.com/timeers/root-website-sub000/internal/laws"
	"github.com/timeers/root-website-sub000/internal/lawsync"
	"github.com/timeers/root-website-sub000/internal/lock"
	"github.com/timeers/root-website-sub000/internal/notify"
	"github.com/timeers/root-website-sub000/internal/search"
	"github.com/timeers/root-website-sub000/internal/store"
)

// MemoryDatabaseURL selects the in-process store instead of Postgres.
const MemoryDatabaseURL = "memory://"

// Runtime is the wired set of services shared by the API server and lawctl.
type Runtime struct {
	Repo      store.Repository
	Laws      *laws.Service
	Sync      *lawsync.Service
	Search    *search.Service
	Registry  *prometheus.Registry
	Scheduler *lawsync.Scheduler

	closers []func()
}

// Build connects every backend named in cfg. Optional backends that are not
// configured fall back to in-process implementations.
func Build(ctx context.Context, cfg config.Config) (*Runtime, error) {
	rt := &Runtime{Registry: prometheus.NewRegistry()}
	memory := strings.TrimSpace(cfg.DatabaseURL) == MemoryDatabaseURL

	var fallback search.Searcher
	if memory {
		log.Printf("Using in-memory store")
		mem := store.NewMemoryStore()
		rt.Repo = mem
		fallback = search.NewScanSearcher(mem)
	} else {
		pg, err := store.OpenPostgres(ctx, cfg.DatabaseURL, cfg.MigrationsDir)
		if err != nil {
			return nil, err
		}
		rt.closers = append(rt.closers, func() { _ = pg.DB().Close() })
		rt.Repo = pg
		fallback = search.NewPgFTS(pg.DB())
	}

	var locker lock.Locker = lock.NewKeyedMutex()
	if strings.TrimSpace(cfg.RedisURL) != "" {
		log.Printf("Using Redis for tree locks")
		redisLocker, err := lock.NewRedisLocker(cfg.RedisURL)
		if err != nil {
			rt.Close()
			return nil, fmt.Errorf("redis connection failed: %w", err)
		}
		rt.closers = append(rt.closers, func() { _ = redisLocker.Close() })
		locker = redisLocker
	}

	blobs, err := openBlobs(ctx, cfg, memory)
	if err != nil {
		rt.Close()
		return nil, err
	}

	var primary search.Index
	if strings.TrimSpace(cfg.MeiliURL) != "" {
		meili := search.NewMeili(cfg.MeiliURL, cfg.MeiliMasterKey)
		rt.closers = append(rt.closers, meili.Close)
		primary = meili
	}
	rt.Search = search.NewService(primary, fallback)
	rt.closers = append(rt.closers, rt.Search.Wait)

	var notifier notify.Notifier = notify.Nop{}
	if webhook := notify.NewWebhook(cfg.DiscordWebhookURL, cfg.HTTPTimeout); webhook.IsConfigured() {
		notifier = webhook
	}

	hooks := []laws.Hook{
		laws.NotifyHook(notifier, log.Printf),
		rt.Search.LawHook(rt.Repo),
	}
	rt.Laws = laws.New(rt.Repo, locker, hooks...)

	var upstream lawsync.Upstream
	if cfg.RulesRepoOwner != "" && cfg.RulesRepoName != "" {
		github, err := lawsync.NewGitHubUpstream(lawsync.GitHubConfig{
			Token:   cfg.GitHubToken,
			Owner:   cfg.RulesRepoOwner,
			Repo:    cfg.RulesRepoName,
			Ref:     cfg.RulesRef,
			Timeout: cfg.HTTPTimeout,
		})
		if err != nil {
			rt.Close()
			return nil, err
		}
		upstream = github
	}

	var archive lawsync.Archive
	if strings.TrimSpace(cfg.ArchiveDir) != "" {
		archive = gitrepo.New(cfg.ArchiveDir)
	}

	rt.Sync = lawsync.New(lawsync.Options{
		BasePath:   cfg.RulesBasePath,
		Extensions: cfg.RulesExtensions,
	}, lawsync.Deps{
		Repo:     rt.Repo,
		Blobs:    blobs,
		Upstream: upstream,
		Locker:   locker,
		Archive:  archive,
		Notifier: notifier,
		Metrics:  lawsync.NewMetrics(rt.Registry),
		Hooks:    hooks,
		Logf:     log.Printf,
	})

	if upstream != nil {
		rt.Scheduler = &lawsync.Scheduler{
			Service:   rt.Sync,
			Languages: rt.Repo,
			Interval:  cfg.SyncInterval,
			Retries:   cfg.SyncRetries,
			Backoff:   cfg.SyncBackoff,
		}
	}
	return rt, nil
}

func openBlobs(ctx context.Context, cfg config.Config, memory bool) (blobstore.Store, error) {
	switch {
	case strings.TrimSpace(cfg.MinioEndpoint) != "":
		log.Printf("Using MinIO bucket %s for rules files", cfg.MinioBucket)
		return blobstore.NewMinIO(ctx, blobstore.MinIOConfig{
			Endpoint:  cfg.MinioEndpoint,
			AccessKey: cfg.MinioAccessKey,
			SecretKey: cfg.MinioSecretKey,
			Bucket:    cfg.MinioBucket,
			Secure:    cfg.MinioSecure,
		})
	case memory:
		return blobstore.NewMemory(), nil
	default:
		return blobstore.NewFilesystem(cfg.BlobDir)
	}
}

// Close releases backends in reverse order of creation.
func (rt *Runtime) Close() {
	for i := len(rt.closers) - 1; i >= 0; i-- {
		rt.closers[i]()
	}
	rt.closers = nil
}
