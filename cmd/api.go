package cmd

import (
	"fmt"

	"github.com/urfave/cli/v2"

	"github.com/pathforge/internal/api"
	"github.com/pathforge/internal/jobqueue"
)

// APICommand returns the CLI command for starting the API server
func APICommand() *cli.Command {
	return &cli.Command{
		Name:  "api",
		Usage: "Start the pathforge API server",
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:    "port",
				Aliases: []string{"p"},
				Usage:   "Port for the API server",
				Value:   8890,
			},
		},
		Action: func(c *cli.Context) error {
			cfg, err := loadConfig(c)
			if err != nil {
				return err
			}

			svc, err := buildServices(c.Context, cfg)
			if err != nil {
				return err
			}
			defer svc.Close()

			// flag wins over config
			port := c.Int("port")
			if !c.IsSet("port") && cfg.Server.Port != 0 {
				port = cfg.Server.Port
			}

			// background indexing only runs with a database behind it
			var queue *jobqueue.JobQueue
			if cfg.Database.URL != "" {
				queue, err = jobqueue.NewJobQueue(c.Context, cfg.Database.URL,
					svc.chunker, svc.engine, jobqueue.DefaultQueueConfig())
				if err != nil {
					return fmt.Errorf("start job queue: %w", err)
				}
				if err := queue.Start(c.Context); err != nil {
					return fmt.Errorf("start job queue workers: %w", err)
				}
				defer queue.Stop(c.Context)
			}

			fmt.Printf("Starting pathforge API server on port %d...\n", port)
			server := api.NewServer(port, api.Deps{
				Chunker:     svc.chunker,
				Engine:      svc.engine,
				Analyzer:    svc.analyzer,
				Planner:     svc.planner,
				Coordinator: svc.coord,
				Catalog:     svc.catalog,
				Tutor:       svc.tutor,
			})
			return server.Start()
		},
	}
}
