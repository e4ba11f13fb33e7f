package cmd

import (
	"context"
	"fmt"

	"github.com/owasp/nest/pkg/storage"
	"github.com/urfave/cli/v3"
)

// OptimizeCommand creates the optimize command
func OptimizeCommand() *cli.Command {
	return &cli.Command{
		Name:  "optimize",
		Usage: "Optimize the local search indexes",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "index",
				Usage: "Target a specific index (optional)",
			},
			&cli.BoolFlag{
				Name:  "vacuum",
				Usage: "Also run VACUUM to defragment the databases",
			},
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			return optimizeIndexes(ctx, c.String("config"), c.String("index"), c.Bool("vacuum"))
		},
	}
}

func optimizeIndexes(ctx context.Context, configPath, indexName string, vacuum bool) error {
	_, b, err := loadBackend(configPath)
	if err != nil {
		return err
	}
	defer b.Close()

	names := b.registry.Names()
	if indexName != "" {
		if _, err := b.registry.Get(indexName); err != nil {
			return err
		}
		names = []string{indexName}
	}

	hasErrors := false
	for _, name := range names {
		fmt.Printf("Optimizing %s... ", name)
		idx, err := b.storage.Index(name)
		if err == nil {
			err = optimizeIndex(ctx, idx, vacuum)
		}
		if err != nil {
			fmt.Printf("✗ FAILED - %v\n", err)
			hasErrors = true
			continue
		}
		fmt.Printf("✓ OK\n")
	}

	fmt.Println()
	if hasErrors {
		return fmt.Errorf("optimization failed for one or more indexes")
	}
	fmt.Println("All indexes optimized successfully")
	return nil
}

func optimizeIndex(ctx context.Context, idx *storage.Index, vacuum bool) error {
	if err := idx.Optimize(ctx); err != nil {
		return err
	}
	if vacuum {
		if err := idx.Vacuum(ctx); err != nil {
			return fmt.Errorf("vacuuming: %w", err)
		}
	}
	if err := idx.WALCheckpoint(ctx); err != nil {
		return fmt.Errorf("checkpointing: %w", err)
	}
	return nil
}
