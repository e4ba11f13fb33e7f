package cmd

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/owasp/nest/pkg/storage"
	"github.com/urfave/cli/v3"
)

// StatsCommand creates the stats command
func StatsCommand() *cli.Command {
	return &cli.Command{
		Name:  "stats",
		Usage: "Show local index statistics",
		Action: func(ctx context.Context, c *cli.Command) error {
			return showStats(ctx, c.String("config"))
		},
	}
}

func showStats(ctx context.Context, configPath string) error {
	_, b, err := loadBackend(configPath)
	if err != nil {
		return err
	}
	defer b.Close()

	if b.stats() == nil {
		return errors.New("statistics are only kept for the local search backend")
	}

	stats, err := b.storage.Stats(ctx)
	if err != nil {
		return fmt.Errorf("getting stats: %w", err)
	}

	fmt.Print(formatStats(stats))
	return nil
}

// formatStats formats storage statistics for display
func formatStats(stats []storage.IndexStats) string {
	var output strings.Builder

	total := 0
	for _, st := range stats {
		total += st.Documents
	}

	output.WriteString(titleStyle.Render("Index Statistics"))
	output.WriteString("\n")
	output.WriteString(summaryStyle.Render(fmt.Sprintf("%s documents across %d indexes", formatCount(total), len(stats))))
	output.WriteString("\n")

	for _, st := range stats {
		var content strings.Builder
		content.WriteString(nameStyle.Render(st.Name))
		fmt.Fprintf(&content, "\nDocuments: %s", formatNumber(st.Documents))
		if total > 0 && st.Documents > 0 {
			fmt.Fprintf(&content, " (%.1f%%)", float64(st.Documents)/float64(total)*100)
		}
		fmt.Fprintf(&content, "\nSize:      %s", formatBytes(st.SizeBytes))

		if !st.Oldest.IsZero() {
			fmt.Fprintf(&content, "\nOldest:    %s", formatTime(st.Oldest))
		}
		if !st.Newest.IsZero() {
			fmt.Fprintf(&content, "\nNewest:    %s", formatTime(st.Newest))
			if !st.Oldest.IsZero() {
				fmt.Fprintf(&content, "\nSpan:      %s", formatDuration(st.Newest.Sub(st.Oldest)))
			}
		}
		if st.LastSync.IsZero() {
			content.WriteString("\n" + metaStyle.Render("Never synced"))
		} else {
			content.WriteString("\n" + metaStyle.Render("Synced "+formatTime(st.LastSync)))
		}

		output.WriteString(blockStyle.Render(content.String()))
		output.WriteString("\n")
	}

	return output.String()
}
