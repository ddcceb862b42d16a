package cmd

import (
	"fmt"

	"github.com/urfave/cli/v2"

	"github.com/replydesk/internal/database"
	"github.com/replydesk/internal/jobqueue"
)

// MigrateCommand returns the migrate command
func MigrateCommand() *cli.Command {
	return &cli.Command{
		Name:   "migrate",
		Usage:  "Create the emails, logs and job queue tables",
		Action: runMigrate,
	}
}

func runMigrate(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}

	ctx := c.Context
	db, err := database.NewDB(ctx, cfg.Database.URL)
	if err != nil {
		return err
	}
	defer db.Close()

	if err := database.Migrate(ctx, db); err != nil {
		return err
	}

	if jobqueue.QueueConfigFrom(cfg).Backend == jobqueue.BackendRiver {
		pool, err := database.NewPool(ctx, cfg.Database.URL)
		if err != nil {
			return err
		}
		defer pool.Close()

		if err := jobqueue.Migrate(ctx, pool); err != nil {
			return err
		}
	}

	fmt.Println("Database schema is up to date")
	return nil
}
