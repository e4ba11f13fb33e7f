package cmd

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/owasp/nest/pkg/config"
	"github.com/owasp/nest/pkg/core"
	"github.com/owasp/nest/pkg/importer"
	"github.com/owasp/nest/pkg/log"
	"github.com/owasp/nest/pkg/meili"
	"github.com/owasp/nest/pkg/nestapi"
	"github.com/owasp/nest/pkg/realtime"
	"github.com/owasp/nest/pkg/report"
	"github.com/owasp/nest/pkg/search"
	"github.com/owasp/nest/pkg/storage"
	"github.com/owasp/nest/pkg/version"
)

var logger = log.ForService("nest")

// backend bundles what every command needs to answer searches: the index
// definitions, the fetcher selected in the configuration and the reporter
// fetch errors go to.
type backend struct {
	registry *core.Registry
	storage  *storage.Manager
	fetcher  search.Fetcher[core.Document]
	reporter search.Reporter
	meili    *meili.Client
	sentry   *report.Sentry
	local    bool
}

// buildRegistry returns the built-in index definitions with the configured
// overrides applied.
func buildRegistry(cfg *config.Config) *core.Registry {
	registry := core.GetGlobalRegistry()
	applyIndexConfig(registry, cfg)
	return registry
}

// applyIndexConfig rewrites the definitions in registry from the pristine
// built-in ones, so removed overrides are reverted on reload.
func applyIndexConfig(registry *core.Registry, cfg *config.Config) {
	builtin := core.GetGlobalRegistry()
	for _, def := range builtin.All() {
		if def.HitsPerPage <= 0 {
			def.HitsPerPage = cfg.Search.HitsPerPage
		}
		ic := cfg.Index(def.Name)
		registry.Replace(def.Override(ic.PageTitle, ic.DefaultSortBy, ic.DefaultOrder, ic.HitsPerPage))
	}
	for name := range cfg.Indexes {
		if _, err := builtin.Get(name); err != nil {
			logger.Warnf("ignoring settings for unknown index %q", name)
		}
	}
}

func openBackend(cfg *config.Config) (*backend, error) {
	registry := buildRegistry(cfg)
	b := &backend{
		registry: registry,
		storage:  storage.NewManager(cfg.StorageDir, registry),
	}

	switch cfg.Search.Backend {
	case config.BackendNestAPI:
		client, err := nestapi.New(cfg.NestAPI.BaseURL,
			nestapi.WithAttributePrefix(cfg.NestAPI.AttributePrefix),
			nestapi.WithHTTPClient(&http.Client{Timeout: cfg.NestAPI.Timeout.Duration}))
		if err != nil {
			b.Close()
			return nil, fmt.Errorf("creating nest api client: %w", err)
		}
		b.fetcher = nestapi.NewDocumentFetcher(client)
	case config.BackendMeilisearch:
		b.meili = meili.New(cfg.Meili.Host, cfg.Meili.APIKey)
		b.fetcher = meili.NewFetcher(b.meili)
	default:
		b.fetcher = b.storage
		b.local = true
	}

	reporters := report.Multi{report.NewLog("search")}
	if cfg.Sentry.DSN != "" {
		s, err := report.NewSentry(report.SentryOptions{
			DSN:         cfg.Sentry.DSN,
			Release:     "nest@" + version.Version,
			Environment: cfg.Sentry.Environment,
		})
		if err != nil {
			b.Close()
			return nil, fmt.Errorf("creating sentry client: %w", err)
		}
		b.sentry = s
		reporters = append(reporters, s)
	}
	b.reporter = reporters

	return b, nil
}

// stats returns the local storage statistics, or nil when searches are
// answered by a remote backend.
func (b *backend) stats() *storage.Manager {
	if b.local {
		return b.storage
	}
	return nil
}

// newImporter builds a GitHub importer writing into the local storage and,
// with the Meilisearch backend, mirroring every batch there.
func (b *backend) newImporter(ic importer.Config, events realtime.Publisher) (*importer.Importer, error) {
	opts := []importer.Option{importer.WithPublisher(events)}
	if b.meili != nil {
		opts = append(opts, importer.WithMirror(b.meili))
	}
	return importer.New(ic, b.storage, opts...)
}

func importerConfig(cfg *config.Config) importer.Config {
	return importer.Config{
		Organization: cfg.GitHub.Organization,
		Token:        cfg.GitHub.Token,
	}
}

func (b *backend) Close() error {
	if b.sentry != nil {
		b.sentry.Flush(2 * time.Second)
	}
	if err := b.storage.Close(); err != nil {
		logger.Warnf("failed to close storage manager: %v", err)
		return err
	}
	return nil
}

// loadBackend loads the configuration at configPath and opens its backend.
func loadBackend(configPath string) (*config.Config, *backend, error) {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("loading config: %w", err)
	}
	b, err := openBackend(cfg)
	if err != nil {
		return nil, nil, err
	}
	return cfg, b, nil
}

// searchOptions returns the controller options of index, with sort and order
// overriding the index defaults when set.
func searchOptions(registry *core.Registry, index, sortBy, order string) (core.IndexDefinition, search.Options, error) {
	def, err := registry.Get(index)
	if err != nil {
		return def, search.Options{}, err
	}
	opts := def.Options()
	if sortBy != "" {
		if !def.Sortable(sortBy) {
			return def, opts, fmt.Errorf("index %s cannot be sorted by %q", index, sortBy)
		}
		opts.DefaultSortBy = sortBy
	}
	if order != "" {
		o, err := search.ParseOrder(order)
		if err != nil {
			return def, opts, err
		}
		opts.DefaultOrder = o
	}
	return def, opts, nil
}

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}
