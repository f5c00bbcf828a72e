package cmd

import (
	"fmt"

	"github.com/urfave/cli/v2"

	"github.com/pathforge/internal/jobqueue"
)

// IndexCommand chunks and indexes a repository snapshot from disk.
func IndexCommand() *cli.Command {
	return &cli.Command{
		Name:      "index",
		Usage:     "Chunk and index a repository snapshot directory",
		ArgsUsage: "<snapshot-dir>",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "repository",
				Aliases:  []string{"r"},
				Usage:    "Repository identity for the snapshot",
				Required: true,
			},
			&cli.BoolFlag{
				Name:  "background",
				Usage: "Enqueue a background indexing job instead of indexing inline (requires database)",
			},
		},
		Action: runIndex,
	}
}

func runIndex(c *cli.Context) error {
	if c.NArg() != 1 {
		return fmt.Errorf("expected exactly one snapshot directory argument")
	}
	snapshotDir := c.Args().First()
	repositoryID := c.String("repository")

	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	svc, err := buildServices(c.Context, cfg)
	if err != nil {
		return err
	}
	defer svc.Close()

	if c.Bool("background") {
		if cfg.Database.URL == "" {
			return fmt.Errorf("background indexing requires database.url to be configured")
		}
		queue, err := jobqueue.NewJobQueue(c.Context, cfg.Database.URL,
			svc.chunker, svc.engine, jobqueue.DefaultQueueConfig())
		if err != nil {
			return err
		}
		defer queue.Stop(c.Context)
		if err := queue.EnqueueRepoIndex(c.Context, repositoryID, snapshotDir); err != nil {
			return err
		}
		fmt.Printf("Queued background indexing of %s for repository %s\n", snapshotDir, repositoryID)
		return nil
	}

	files, err := jobqueue.LoadSnapshot(snapshotDir)
	if err != nil {
		return fmt.Errorf("load snapshot: %w", err)
	}
	if len(files) == 0 {
		return fmt.Errorf("no indexable files under %s", snapshotDir)
	}

	fragments := svc.chunker.Files(repositoryID, files)
	result, err := svc.engine.Index(c.Context, repositoryID, fragments)
	if err != nil {
		return err
	}

	fmt.Printf("Indexed %d fragments (%d unchanged, %d retired, %d failed, %d pending) from %d files\n",
		result.Indexed, result.Unchanged, result.Retired, result.Failed, result.Pending, len(files))
	if result.Pending > 0 {
		fmt.Println("Pending fragments can be recovered with another index run once the provider stabilizes.")
	}
	return nil
}
