package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/gorilla/schema"
	"github.com/gorilla/websocket"
	"github.com/klauspost/compress/gzhttp"
	"github.com/owasp/nest/cmd/web/components"
	"github.com/owasp/nest/cmd/web/components/types"
	"github.com/owasp/nest/pkg/api"
	"github.com/owasp/nest/pkg/config"
	"github.com/owasp/nest/pkg/core"
	"github.com/owasp/nest/pkg/realtime"
	"github.com/owasp/nest/pkg/report"
	"github.com/owasp/nest/pkg/scheduler"
	"github.com/owasp/nest/pkg/search"
	"github.com/owasp/nest/pkg/urlsync"
	"github.com/owasp/nest/pkg/version"
	"github.com/urfave/cli/v3"
)

// pageWindow is the number of page links shown on each side of the current page.
const pageWindow = 2

// WebCommand creates the web command with both API and UI
func WebCommand() *cli.Command {
	return &cli.Command{
		Name:  "web",
		Usage: "Start web server with the listing pages and the JSON API",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "listen",
				Usage: "Address to listen on, defaults to the configured one",
			},
			&cli.BoolFlag{
				Name:  "sync-on-start",
				Usage: "Import from GitHub right after starting",
			},
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			return startWebServer(ctx, c.String("config"), c.String("listen"), c.Bool("sync-on-start"))
		},
	}
}

// WebServer renders the HTML listing pages and mounts the JSON API.
type WebServer struct {
	registry *core.Registry
	fetcher  search.Fetcher[core.Document]
	stats    api.StatsProvider
	reporter search.Reporter
	decoder  *schema.Decoder
	api      *api.Server
}

// NewWebServer builds the UI on top of apiServer. stats may be nil.
func NewWebServer(registry *core.Registry, fetcher search.Fetcher[core.Document], stats api.StatsProvider, reporter search.Reporter, apiServer *api.Server) *WebServer {
	decoder := schema.NewDecoder()
	decoder.IgnoreUnknownKeys(true)

	if reporter == nil {
		reporter = report.NewLog("web")
	}
	return &WebServer{
		registry: registry,
		fetcher:  fetcher,
		stats:    stats,
		reporter: reporter,
		decoder:  decoder,
		api:      apiServer,
	}
}

// Handler returns the routes of the UI and the API. With compress, responses
// other than websocket upgrades are gzipped.
func (s *WebServer) Handler(compress bool) http.Handler {
	mux := http.NewServeMux()
	s.api.RegisterRoutes(mux)
	mux.HandleFunc("GET /", s.handleHome)
	mux.HandleFunc("GET /{index}", s.handleListing)

	var handler http.Handler = mux
	if compress {
		gz := gzhttp.GzipHandler(mux)
		handler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if websocket.IsWebSocketUpgrade(r) {
				mux.ServeHTTP(w, r)
				return
			}
			gz.ServeHTTP(w, r)
		})
	}
	return api.CorsMiddleware(handler)
}

func startWebServer(ctx context.Context, configPath, listen string, syncOnStart bool) error {
	cfg, b, err := loadBackend(configPath)
	if err != nil {
		return err
	}
	defer b.Close()

	if listen == "" {
		listen = cfg.Web.Listen
	}

	hub := realtime.NewHub(0)
	apiOpts := []api.Option{
		api.WithHub(hub),
		api.WithReporter(b.reporter),
		api.WithDebounce(cfg.Search.Debounce.Duration),
	}
	var stats api.StatsProvider
	if st := b.stats(); st != nil {
		stats = st
		apiOpts = append(apiOpts, api.WithStats(st))
	}
	apiServer := api.NewServer(b.registry, b.fetcher, apiOpts...)
	webServer := NewWebServer(b.registry, b.fetcher, stats, b.reporter, apiServer)

	var (
		syncer    scheduler.Syncer
		optimizer scheduler.Optimizer
	)
	switch {
	case cfg.GitHub.Disabled:
		logger.Infof("GitHub sync disabled in configuration")
	case cfg.Search.Backend == config.BackendNestAPI:
		logger.Infof("GitHub sync skipped, searches are answered by %s", cfg.NestAPI.BaseURL)
	default:
		im, err := b.newImporter(importerConfig(cfg), hub)
		if err != nil {
			return fmt.Errorf("creating importer: %w", err)
		}
		syncer = im
	}
	if cfg.Search.Backend != config.BackendNestAPI {
		optimizer = b.storage
	}
	sched := scheduler.New(scheduler.Config{
		SyncInterval:     cfg.GitHub.SyncInterval.Duration,
		OptimizeInterval: cfg.Search.OptimizeInterval.Duration,
		SyncOnStart:      syncOnStart,
	}, syncer, optimizer)

	server := &http.Server{
		Addr:              listen,
		Handler:           webServer.Handler(cfg.Web.Compress),
		ReadHeaderTimeout: 10 * time.Second,
		ErrorLog:          logger.StdLogger("ERROR"),
	}

	serveCtx, serveCancel := context.WithCancel(ctx)
	defer serveCancel()

	go realtime.NewConsumer(cfg.Web.EventSocket, hub).Run(serveCtx)

	if err := sched.Start(serveCtx); err != nil {
		return fmt.Errorf("starting scheduler: %w", err)
	}
	defer sched.Stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Infof("Starting web server on http://%s (backend: %s)", listen, cfg.Search.Backend)
		logger.Infof("  GET /{index} - listing pages: %v", b.registry.Names())
		logger.Infof("  GET /api/indexes, /api/search/{index}, /api/search/{index}/ws, /api/stats, /health")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	defer signal.Stop(sigCh)

	var cfgMutex sync.Mutex
	currentConfig := cfg

	watcher, err := fsnotify.NewWatcher()
	var watchEvents <-chan fsnotify.Event
	var watchErrors <-chan error
	if err != nil {
		logger.Warnf("failed to create config file watcher: %v", err)
	} else {
		defer func() {
			if err := watcher.Close(); err != nil {
				logger.Warnf("failed to close config file watcher: %v", err)
			}
		}()
		if err := watcher.Add(configPath); err != nil {
			logger.Warnf("failed to watch config file %s: %v", configPath, err)
		} else {
			logger.Infof("Watching config file for changes: %s", configPath)
		}
		watchEvents = watcher.Events
		watchErrors = watcher.Errors
	}

	reload := func(reason string) {
		cfgMutex.Lock()
		defer cfgMutex.Unlock()
		newCfg, err := reloadConfiguration(configPath, b.registry, currentConfig)
		if err != nil {
			logger.Errorf("Failed to reload configuration (%s): %v", reason, err)
			return
		}
		currentConfig = newCfg
		logger.Infof("Configuration reloaded (%s)", reason)
	}

	for {
		select {
		case err := <-errCh:
			return fmt.Errorf("serving: %w", err)
		case <-ctx.Done():
			return shutdown(server)
		case sig := <-sigCh:
			if sig == syscall.SIGHUP {
				reload("SIGHUP")
				continue
			}
			return shutdown(server)
		case event, ok := <-watchEvents:
			if !ok {
				watchEvents = nil
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) && !event.Has(fsnotify.Remove) {
				continue
			}
			// Editors replace the file on save, which drops it from the watch list
			if event.Has(fsnotify.Rename) || event.Has(fsnotify.Remove) {
				time.Sleep(200 * time.Millisecond)
				if _, err := os.Stat(configPath); os.IsNotExist(err) {
					logger.Warnf("Config file was removed and not replaced, skipping reload")
					continue
				}
				if err := watcher.Add(configPath); err != nil {
					logger.Warnf("failed to re-add config file to watcher: %v", err)
				}
			} else {
				time.Sleep(100 * time.Millisecond)
			}
			reload(event.Op.String())
		case err, ok := <-watchErrors:
			if !ok {
				watchErrors = nil
				continue
			}
			logger.Warnf("Config file watcher error: %v", err)
		}
	}
}

func shutdown(server *http.Server) error {
	logger.Infof("Shutting down web server...")
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return server.Shutdown(ctx)
}

// reloadConfiguration applies the index settings of the file at configPath.
// Settings that need new connections only take effect after a restart.
func reloadConfiguration(configPath string, registry *core.Registry, current *config.Config) (*config.Config, error) {
	newCfg, err := config.LoadConfig(configPath)
	if err != nil {
		return nil, fmt.Errorf("loading new config: %w", err)
	}

	applyIndexConfig(registry, newCfg)

	if newCfg.Search.Backend != current.Search.Backend ||
		newCfg.NestAPI != current.NestAPI ||
		newCfg.Meili != current.Meili ||
		newCfg.Web != current.Web ||
		newCfg.StorageDir != current.StorageDir {
		logger.Warnf("backend, storage or listen settings changed, restart to apply them")
	}
	return newCfg, nil
}

// Web UI Handlers

func (s *WebServer) handleHome(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}

	// A search from the home page goes to the projects listing
	if q := r.URL.Query().Get(urlsync.QueryParam); q != "" {
		values := urlsync.Encode(nil, urlsync.State{Query: q})
		http.Redirect(w, r, "/"+core.IndexProjects+"?"+values.Encode(), http.StatusFound)
		return
	}

	counts := make(map[string]int)
	counted := false
	if s.stats != nil {
		if stats, err := s.stats.Stats(r.Context()); err != nil {
			logger.Warnf("reading index stats: %v", err)
		} else {
			counted = true
			for _, st := range stats {
				counts[st.Name] = st.Documents
			}
		}
	}

	nav := s.nav("")
	for i := range nav {
		nav[i].Documents = counts[nav[i].Name]
	}

	data := types.HomeData{
		Layout:  types.Layout{Title: "OWASP Nest", Nav: nav, Version: version.APIVersion()},
		Indexes: nav,
		Counted: counted,
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := components.Home(data).Render(r.Context(), w); err != nil {
		http.Error(w, fmt.Sprintf("Template error: %v", err), http.StatusInternalServerError)
	}
}

// handleListing renders one page of an index. Fetch failures are shown as a
// toast on an otherwise normal page.
func (s *WebServer) handleListing(w http.ResponseWriter, r *http.Request) {
	def, err := s.registry.Get(r.PathValue("index"))
	if err != nil {
		http.NotFound(w, r)
		return
	}

	values := r.URL.Query()
	if !urlsync.IsCanonical(values) {
		u := urlsync.NewURL(&url.URL{Path: r.URL.Path, RawQuery: r.URL.RawQuery})
		http.Redirect(w, r, u.With(urlsync.Parse(values)), http.StatusFound)
		return
	}

	opts := s.listingOptions(def, values)
	u := urlsync.NewURL(&url.URL{Path: "/" + def.Name, RawQuery: r.URL.RawQuery})

	state, err := search.Once(r.Context(), s.fetcher, opts,
		search.WithURL(u),
		search.WithReporter(s.reporter))

	data := types.ListingData{
		Layout:     types.Layout{Title: def.PageTitle, Nav: s.nav(def.Name), Version: version.APIVersion()},
		Index:      def,
		Query:      state.Query,
		Order:      state.Order,
		Hits:       state.Items,
		Loaded:     state.IsLoaded,
		Page:       state.Page,
		TotalPages: state.TotalPages,
		RetryURL:   u.RequestURI(),
		LiveURL:    "/api/search/" + def.Name + "/ws",
	}
	if err != nil {
		toast := report.ToastFor(err)
		data.Toast = &toast
	}

	for _, opt := range def.SortOptions {
		data.Sorts = append(data.Sorts, types.SortChoice{Key: opt.Key, Label: opt.Label, Selected: opt.Key == state.SortBy})
	}

	pageLink := func(p int) string {
		return u.With(urlsync.State{Query: state.Query, Page: p})
	}
	for _, p := range components.PageWindow(state.Page, state.TotalPages, pageWindow) {
		if p == 0 {
			data.Pages = append(data.Pages, types.PageLink{Gap: true})
			continue
		}
		data.Pages = append(data.Pages, types.PageLink{Number: p, URL: pageLink(p), Current: p == state.Page})
	}
	if state.Page > 1 {
		data.PrevURL = pageLink(state.Page - 1)
	}
	if state.Page < state.TotalPages {
		data.NextURL = pageLink(state.Page + 1)
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := components.Listing(data).Render(r.Context(), w); err != nil {
		http.Error(w, fmt.Sprintf("Template error: %v", err), http.StatusInternalServerError)
	}
}

// listingOptions applies the sort and order parameters to the index defaults.
// Unknown values are ignored rather than rejected.
func (s *WebServer) listingOptions(def core.IndexDefinition, values url.Values) search.Options {
	opts := def.Options()

	var params api.SearchParams
	if err := s.decoder.Decode(&params, values); err != nil {
		logger.Debugf("ignoring malformed listing parameters: %v", err)
	}
	if params.Sort != "" && def.Sortable(params.Sort) {
		opts.DefaultSortBy = params.Sort
	}
	if order, err := search.ParseOrder(params.Order); err == nil {
		opts.DefaultOrder = order
	}
	return opts
}

func (s *WebServer) nav(active string) []types.IndexLink {
	defs := s.registry.All()
	links := make([]types.IndexLink, 0, len(defs))
	for _, def := range defs {
		links = append(links, types.IndexLink{
			Name:        def.Name,
			Title:       def.Title,
			Placeholder: def.Placeholder,
			URL:         "/" + def.Name,
			Active:      def.Name == active,
		})
	}
	return links
}
