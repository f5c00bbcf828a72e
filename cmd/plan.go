package cmd

import (
	"fmt"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/pathforge/internal/export"
	"github.com/pathforge/internal/jobqueue"
	"github.com/pathforge/pkg/models"
)

// PlanCommand analyzes a snapshot and prints the learning spec for a learner.
func PlanCommand() *cli.Command {
	return &cli.Command{
		Name:      "plan",
		Usage:     "Analyze a snapshot and plan a learning path",
		ArgsUsage: "<snapshot-dir>",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "repository",
				Aliases:  []string{"r"},
				Usage:    "Repository identity for the snapshot",
				Required: true,
			},
			&cli.StringFlag{
				Name:     "learner",
				Aliases:  []string{"l"},
				Usage:    "Learner identity",
				Required: true,
			},
			&cli.StringFlag{
				Name:  "experience",
				Usage: "Learner experience level (beginner|intermediate|advanced)",
				Value: "intermediate",
			},
			&cli.IntFlag{
				Name:  "daily-minutes",
				Usage: "Minutes per day the learner can spend",
				Value: 120,
			},
			&cli.StringFlag{
				Name:    "output",
				Aliases: []string{"o"},
				Usage:   "Write the learning spec to `FILE` instead of stdout",
			},
		},
		Action: runPlan,
	}
}

func runPlan(c *cli.Context) error {
	if c.NArg() != 1 {
		return fmt.Errorf("expected exactly one snapshot directory argument")
	}
	snapshotDir := c.Args().First()

	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	svc, err := buildServices(c.Context, cfg)
	if err != nil {
		return err
	}
	defer svc.Close()

	files, err := jobqueue.LoadSnapshot(snapshotDir)
	if err != nil {
		return fmt.Errorf("load snapshot: %w", err)
	}

	repositoryID := c.String("repository")
	analysis, err := svc.analyzer.Analyze(c.Context, repositoryID, files)
	if err != nil {
		return err
	}

	profile := models.LearnerProfile{
		LearnerID:       c.String("learner"),
		ExperienceLevel: c.String("experience"),
		DailyMinutes:    c.Int("daily-minutes"),
	}
	path, err := svc.planner.Plan(c.Context, analysis, profile)
	if err != nil {
		return err
	}

	doc, err := export.BuildSpec(path)
	if err != nil {
		return err
	}
	data, err := export.Encode(doc)
	if err != nil {
		return err
	}

	if out := c.String("output"); out != "" {
		if err := os.WriteFile(out, data, 0o644); err != nil {
			return fmt.Errorf("write spec: %w", err)
		}
		fmt.Printf("Wrote learning spec for %s to %s\n", profile.LearnerID, out)
		return nil
	}
	fmt.Print(string(data))
	return nil
}
