package cmd

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/owasp/nest/pkg/core"
	"github.com/owasp/nest/pkg/report"
	"github.com/owasp/nest/pkg/search"
	"github.com/owasp/nest/pkg/urlsync"
	"github.com/urfave/cli/v3"
)

// SearchCommand creates the search command
func SearchCommand() *cli.Command {
	return &cli.Command{
		Name:      "search",
		Usage:     "Search an index, e.g. nest search --index projects zap level:flagship",
		ArgsUsage: "[query...]",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "query",
				Usage: "Search query, filters like stars>100 included",
			},
			&cli.StringFlag{
				Name:  "index",
				Usage: "Index to search",
				Value: core.IndexProjects,
			},
			&cli.IntFlag{
				Name:  "page",
				Usage: "1-based result page",
				Value: 1,
			},
			&cli.StringFlag{
				Name:  "sort",
				Usage: "Sort key, one of the index sort options",
			},
			&cli.StringFlag{
				Name:  "order",
				Usage: "Sort order, asc or desc",
			},
			&cli.DurationFlag{
				Name:  "timeout",
				Usage: "Give up on the search after this long",
				Value: 15 * time.Second,
			},
			&cli.BoolFlag{
				Name:  "no-pager",
				Usage: "Disable pager and output directly to terminal",
			},
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			query := c.String("query")
			if args := c.Args().Slice(); len(args) > 0 {
				query = strings.TrimSpace(query + " " + strings.Join(args, " "))
			}
			return searchIndex(ctx, c.String("config"), searchArgs{
				index:   c.String("index"),
				query:   query,
				page:    c.Int("page"),
				sortBy:  c.String("sort"),
				order:   c.String("order"),
				timeout: c.Duration("timeout"),
				noPager: c.Bool("no-pager"),
			})
		},
	}
}

type searchArgs struct {
	index   string
	query   string
	page    int
	sortBy  string
	order   string
	timeout time.Duration
	noPager bool
}

func searchIndex(ctx context.Context, configPath string, args searchArgs) error {
	_, b, err := loadBackend(configPath)
	if err != nil {
		return err
	}
	defer b.Close()

	def, opts, err := searchOptions(b.registry, args.index, args.sortBy, args.order)
	if err != nil {
		return err
	}

	u := searchURL(def.Name, args.query, args.page)

	ctx, cancel := withTimeout(ctx, args.timeout)
	defer cancel()

	state, err := search.Once(ctx, b.fetcher, opts,
		search.WithURL(u),
		search.WithReporter(b.reporter))
	if err != nil {
		toast := report.ToastFor(err)
		fmt.Println(errorStyle.Render(toast.Title + ": " + toast.Description))
		return fmt.Errorf("searching %s: %w", def.Name, err)
	}

	canonical := u.With(urlsync.State{Query: state.Query, Page: state.Page})
	return display(formatSearchOutput(def, state, canonical), args.noPager)
}

// searchURL is the listing page URL the CLI arguments correspond to.
func searchURL(index, query string, page int) *urlsync.URL {
	values := urlsync.Encode(nil, urlsync.State{Query: query, Page: page})
	return urlsync.NewURL(&url.URL{Path: "/" + index, RawQuery: values.Encode()})
}

func formatSearchOutput(def core.IndexDefinition, state search.State[core.Document], canonical string) string {
	var output strings.Builder

	title := def.PageTitle
	if state.Query != "" {
		title = fmt.Sprintf("%s: %q", def.PageTitle, state.Query)
	}
	output.WriteString(titleStyle.Render(title))
	output.WriteString("\n")

	if len(state.Items) == 0 {
		output.WriteString(noDataStyle.Render(fmt.Sprintf("No %s found.", strings.ToLower(def.Title))))
		output.WriteString("\n")
		return output.String()
	}

	summary := fmt.Sprintf("Page %d of %d, sorted by %s (%s)",
		state.Page, state.TotalPages, sortLabel(def, state.SortBy), state.Order)
	output.WriteString(summaryStyle.Render(summary))
	output.WriteString("\n")

	for i := range state.Items {
		output.WriteString(formatDocument(&state.Items[i]))
		output.WriteString("\n")
	}

	output.WriteString(metaStyle.Render(canonical))
	output.WriteString("\n")
	return output.String()
}

func formatDocument(doc *core.Document) string {
	var content strings.Builder

	content.WriteString(nameStyle.Render(doc.Name))
	if doc.Summary != "" {
		content.WriteString("\n")
		content.WriteString(doc.Summary)
	}
	if doc.URL != "" {
		content.WriteString("\n")
		content.WriteString(urlStyle.Render(doc.URL))
	}
	if attrs := core.FormatAttributes(doc.Attributes); attrs != "" {
		content.WriteString(metaStyle.Render(attrs))
	}
	if !doc.UpdatedAt.IsZero() {
		content.WriteString("\n")
		content.WriteString(metaStyle.Render("Updated " + formatTime(doc.UpdatedAt)))
	}

	return blockStyle.Render(content.String())
}

func sortLabel(def core.IndexDefinition, key string) string {
	for _, opt := range def.SortOptions {
		if opt.Key == key {
			return opt.Label
		}
	}
	return key
}
