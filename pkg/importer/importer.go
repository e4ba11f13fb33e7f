// Package importer fills the local search indexes from a GitHub organization.
//
// OWASP keeps one repository per project, chapter and committee, named
// www-project-<key>, www-chapter-<key> and www-committee-<key>. The index.md
// file of each repository carries YAML front matter with the entity's title,
// level, type, region and tags. Public members of the organization become
// users and the organization itself is indexed too.
package importer

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/go-github/v73/github"
	"github.com/owasp/nest/pkg/core"
	"github.com/owasp/nest/pkg/log"
	"github.com/owasp/nest/pkg/realtime"
	"github.com/owasp/nest/pkg/storage"
	"golang.org/x/oauth2"
)

var logger = log.ForService("importer")

var repoPrefixes = map[string]string{
	"www-project-":   core.IndexProjects,
	"www-chapter-":   core.IndexChapters,
	"www-committee-": core.IndexCommittees,
}

// Mirror receives a copy of every synced batch, e.g. a Meilisearch instance.
type Mirror interface {
	Push(ctx context.Context, def core.IndexDefinition, docs []*core.Document) error
}

type Config struct {
	Organization string
	Token        string
	// BaseURL points the client at a GitHub Enterprise or test server.
	BaseURL string
	// MaxMembers caps the number of users fetched, 0 means no cap.
	MaxMembers int
	// SkipMetadata disables reading index.md from each repository.
	SkipMetadata bool
}

type Importer struct {
	config  Config
	client  *github.Client
	storage *storage.Manager
	events  realtime.Publisher
	mirror  Mirror
}

// Option configures an Importer.
type Option func(*Importer)

// WithPublisher announces every synced index on p.
func WithPublisher(p realtime.Publisher) Option {
	return func(im *Importer) {
		if p != nil {
			im.events = p
		}
	}
}

// WithMirror pushes every synced batch to m.
func WithMirror(m Mirror) Option {
	return func(im *Importer) {
		im.mirror = m
	}
}

func New(config Config, mgr *storage.Manager, opts ...Option) (*Importer, error) {
	if config.Organization == "" {
		return nil, errors.New("importer: organization is required")
	}

	var httpClient *http.Client
	if config.Token != "" {
		ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: config.Token})
		httpClient = oauth2.NewClient(context.Background(), ts)
	}
	client := github.NewClient(httpClient)
	if config.BaseURL != "" {
		u, err := url.Parse(strings.TrimSuffix(config.BaseURL, "/") + "/")
		if err != nil {
			return nil, fmt.Errorf("parsing github url: %w", err)
		}
		client.BaseURL = u
	}

	im := &Importer{
		config:  config,
		client:  client,
		storage: mgr,
		events:  realtime.Nop{},
	}
	for _, o := range opts {
		o(im)
	}
	return im, nil
}

// IndexResult summarizes the sync of one index.
type IndexResult struct {
	Index    string
	Upserted int
	Pruned   int
}

// Result summarizes a sync.
type Result struct {
	Indexes  []IndexResult
	Duration time.Duration
}

// Total returns the number of upserted documents across indexes.
func (r Result) Total() int {
	n := 0
	for _, ir := range r.Indexes {
		n += ir.Upserted
	}
	return n
}

// Sync imports the organization. Indexes are written one at a time; an
// error in one index does not prevent the others from being synced.
func (im *Importer) Sync(ctx context.Context) (Result, error) {
	start := time.Now()
	logger.Infof("syncing GitHub organization %s", im.config.Organization)

	batches := make(map[string][]*core.Document)
	var errs []error

	repoDocs, err := im.fetchRepositories(ctx)
	if err != nil {
		errs = append(errs, err)
	} else {
		for index, docs := range repoDocs {
			batches[index] = docs
		}
	}

	if users, err := im.fetchMembers(ctx); err != nil {
		errs = append(errs, err)
	} else {
		batches[core.IndexUsers] = users
	}

	if org, err := im.fetchOrganization(ctx); err != nil {
		errs = append(errs, err)
	} else {
		batches[core.IndexOrganizations] = []*core.Document{org}
	}

	var result Result
	for _, index := range im.storage.Registry().Names() {
		docs, ok := batches[index]
		if !ok {
			continue
		}
		ir, err := im.store(ctx, index, docs)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		result.Indexes = append(result.Indexes, ir)
	}

	result.Duration = time.Since(start)
	logger.Infof("synced %d documents in %s", result.Total(), result.Duration.Round(time.Millisecond))
	return result, errors.Join(errs...)
}

// store replaces the content of index with docs.
func (im *Importer) store(ctx context.Context, index string, docs []*core.Document) (IndexResult, error) {
	idx, err := im.storage.Index(index)
	if err != nil {
		return IndexResult{}, err
	}

	if err := idx.Upsert(ctx, docs); err != nil {
		return IndexResult{}, fmt.Errorf("storing %s: %w", index, err)
	}

	keep := make(map[string]bool, len(docs))
	for _, d := range docs {
		keep[d.ObjectID] = true
	}
	pruned, err := idx.Prune(ctx, keep)
	if err != nil {
		return IndexResult{}, fmt.Errorf("pruning %s: %w", index, err)
	}

	if err := idx.SetLastSyncTime(ctx, time.Now()); err != nil {
		logger.Warnf("recording sync time of %s: %v", index, err)
	}

	if im.mirror != nil {
		if err := im.mirror.Push(ctx, idx.Definition(), docs); err != nil {
			logger.Warnf("mirroring %s: %v", index, err)
		}
	}

	im.events.Publish(realtime.NewIndexEvent(realtime.KindUpdated, index, len(docs)))
	if pruned > 0 {
		im.events.Publish(realtime.NewIndexEvent(realtime.KindPruned, index, pruned))
	}

	logger.Debugf("%s: %d upserted, %d pruned", index, len(docs), pruned)
	return IndexResult{Index: index, Upserted: len(docs), Pruned: pruned}, nil
}

func (im *Importer) fetchRepositories(ctx context.Context) (map[string][]*core.Document, error) {
	opts := &github.RepositoryListByOrgOptions{
		Type:        "public",
		ListOptions: github.ListOptions{PerPage: 100},
	}

	out := make(map[string][]*core.Document)
	for {
		repos, resp, err := im.client.Repositories.ListByOrg(ctx, im.config.Organization, opts)
		if err != nil {
			return nil, fmt.Errorf("listing repositories of %s: %w", im.config.Organization, err)
		}

		for _, repo := range repos {
			index, key, ok := classify(repo.GetName())
			if !ok {
				continue
			}
			var meta map[string]any
			if !im.config.SkipMetadata && !repo.GetArchived() {
				meta = im.fetchMetadata(ctx, repo.GetName())
			}
			out[index] = append(out[index], repositoryDocument(index, key, repo, meta))
		}

		if resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}
	return out, nil
}

// fetchMetadata reads the front matter of index.md. Failures are logged and
// yield nil.
func (im *Importer) fetchMetadata(ctx context.Context, repo string) map[string]any {
	file, _, _, err := im.client.Repositories.GetContents(ctx, im.config.Organization, repo, "index.md", nil)
	if err != nil {
		logger.Debugf("reading index.md of %s: %v", repo, err)
		return nil
	}
	content, err := file.GetContent()
	if err != nil {
		logger.Debugf("decoding index.md of %s: %v", repo, err)
		return nil
	}
	meta, err := ParseFrontMatter(content)
	if err != nil {
		logger.Warnf("parsing front matter of %s: %v", repo, err)
		return nil
	}
	return meta
}

func (im *Importer) fetchMembers(ctx context.Context) ([]*core.Document, error) {
	opts := &github.ListMembersOptions{
		PublicOnly:  true,
		ListOptions: github.ListOptions{PerPage: 100},
	}

	var logins []string
	for {
		members, resp, err := im.client.Organizations.ListMembers(ctx, im.config.Organization, opts)
		if err != nil {
			return nil, fmt.Errorf("listing members of %s: %w", im.config.Organization, err)
		}
		for _, m := range members {
			logins = append(logins, m.GetLogin())
		}
		if resp.NextPage == 0 || im.full(len(logins)) {
			break
		}
		opts.Page = resp.NextPage
	}
	if im.full(len(logins)) {
		logins = logins[:im.config.MaxMembers]
	}

	docs := make([]*core.Document, len(logins))
	sem := make(chan struct{}, 4)
	var wg sync.WaitGroup
	for i, login := range logins {
		wg.Add(1)
		go func(i int, login string) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			user, _, err := im.client.Users.Get(ctx, login)
			if err != nil {
				logger.Warnf("fetching user %s: %v", login, err)
				user = &github.User{Login: github.Ptr(login)}
			}
			docs[i] = userDocument(user)
		}(i, login)
	}
	wg.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return docs, nil
}

func (im *Importer) full(n int) bool {
	return im.config.MaxMembers > 0 && n >= im.config.MaxMembers
}

func (im *Importer) fetchOrganization(ctx context.Context) (*core.Document, error) {
	org, _, err := im.client.Organizations.Get(ctx, im.config.Organization)
	if err != nil {
		return nil, fmt.Errorf("fetching organization %s: %w", im.config.Organization, err)
	}
	return organizationDocument(org), nil
}

// classify maps a repository name to its index and entity key.
func classify(name string) (index, key string, ok bool) {
	lower := strings.ToLower(name)
	for prefix, index := range repoPrefixes {
		if strings.HasPrefix(lower, prefix) && len(lower) > len(prefix) {
			return index, lower[len(prefix):], true
		}
	}
	return "", "", false
}
