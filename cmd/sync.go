package cmd

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/owasp/nest/pkg/importer"
	"github.com/owasp/nest/pkg/realtime"
	"github.com/urfave/cli/v3"
)

// SyncCommand creates the sync command
func SyncCommand() *cli.Command {
	return &cli.Command{
		Name:  "sync",
		Usage: "Import projects, chapters, committees and members from GitHub",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "org",
				Usage: "GitHub organization, defaults to the configured one",
			},
			&cli.IntFlag{
				Name:  "max-members",
				Usage: "Stop after this many members (0 for no limit)",
			},
			&cli.BoolFlag{
				Name:  "skip-metadata",
				Usage: "Do not read index.md front matter from each repository",
			},
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			return syncOrganization(ctx, c.String("config"), c.String("org"), c.Int("max-members"), c.Bool("skip-metadata"))
		},
	}
}

func syncOrganization(ctx context.Context, configPath, org string, maxMembers int, skipMetadata bool) error {
	cfg, b, err := loadBackend(configPath)
	if err != nil {
		return err
	}
	defer b.Close()

	ic := importerConfig(cfg)
	if org != "" {
		ic.Organization = org
	}
	ic.MaxMembers = maxMembers
	ic.SkipMetadata = skipMetadata

	var events realtime.Publisher = realtime.Nop{}
	bridge := realtime.NewBridge(cfg.Web.EventSocket)
	switch err := bridge.Start(); {
	case err == nil:
		defer bridge.Close()
		events = bridge
	case errors.Is(err, realtime.ErrBridgeInUse):
		logger.Warnf("another sync is publishing on %s, running web servers will not be notified", cfg.Web.EventSocket)
	default:
		logger.Warnf("index events disabled: %v", err)
	}

	im, err := b.newImporter(ic, events)
	if err != nil {
		return fmt.Errorf("creating importer: %w", err)
	}

	result, err := im.Sync(ctx)
	fmt.Print(formatSyncResult(ic.Organization, result))
	if err != nil {
		return fmt.Errorf("syncing %s: %w", ic.Organization, err)
	}
	return nil
}

func formatSyncResult(org string, result importer.Result) string {
	var output strings.Builder

	output.WriteString(titleStyle.Render("GitHub sync: " + org))
	output.WriteString("\n")

	if len(result.Indexes) == 0 {
		output.WriteString(noDataStyle.Render("Nothing was imported."))
		output.WriteString("\n")
		return output.String()
	}

	for _, ir := range result.Indexes {
		line := fmt.Sprintf("%-14s %s upserted", ir.Index, formatCount(ir.Upserted))
		if ir.Pruned > 0 {
			line += fmt.Sprintf(", %s pruned", formatCount(ir.Pruned))
		}
		output.WriteString("  " + line + "\n")
	}

	output.WriteString(headerStyle.Render(fmt.Sprintf("%s documents in %s",
		formatCount(result.Total()), formatDuration(result.Duration))))
	output.WriteString("\n")
	return output.String()
}
