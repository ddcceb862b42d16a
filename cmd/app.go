package cmd

import (
	"github.com/urfave/cli/v2"
)

// Version is set at build time.
var Version = "0.1.0"

// App builds the replydesk command line.
func App() *cli.App {
	return &cli.App{
		Name:    "replydesk",
		Usage:   "Answer customer email from a policy knowledge base, escalating what it cannot answer safely",
		Version: Version,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Load configuration from `FILE`",
				Value:   "replydesk.toml",
			},
			&cli.StringFlag{
				Name:  "env-file",
				Usage: "Load environment variables from `FILE` before reading configuration",
			},
		},
		Before: func(c *cli.Context) error {
			if path := c.String("env-file"); path != "" {
				return LoadEnvFile(path)
			}
			return nil
		},
		Commands: []*cli.Command{
			ServeCommand(),
			ProcessCommand(),
			IngestCommand(),
			MigrateCommand(),
			ConfigCommand(),
			TokenCommand(),
		},
	}
}
