package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/replydesk/internal/aiconnectors"
	"github.com/replydesk/internal/config"
)

// ConfigCommand returns the config command
func ConfigCommand() *cli.Command {
	return &cli.Command{
		Name:  "config",
		Usage: "Manage configuration",
		Subcommands: []*cli.Command{
			{
				Name:  "init",
				Usage: "Initialize a new configuration file",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:    "output",
						Aliases: []string{"o"},
						Usage:   "Output file path",
						Value:   "replydesk.toml",
					},
				},
				Action: runConfigInit,
			},
			{
				Name:  "validate",
				Usage: "Validate the configuration file",
				Flags: []cli.Flag{
					&cli.BoolFlag{
						Name:  "probe",
						Usage: "Also make a test call to the configured models",
					},
				},
				Action: runConfigValidate,
			},
		},
	}
}

func runConfigInit(c *cli.Context) error {
	outputPath := c.String("output")

	if err := config.InitConfig(outputPath); err != nil {
		return fmt.Errorf("failed to initialize config: %w", err)
	}

	fmt.Printf("Created configuration file at %s\n", outputPath)
	return nil
}

func runConfigValidate(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}

	check := CheckRequiredConfig(cfg)
	PrintConfigCheck(check)

	if err := config.Validate(cfg); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	if c.Bool("probe") {
		ctx, cancel := context.WithTimeout(c.Context, 30*time.Second)
		defer cancel()

		for name, mc := range map[string]config.ModelConfig{"llm": cfg.LLM, "judge": cfg.Judge} {
			connector, err := aiconnectors.NewConnector(ctx, aiconnectors.OptionsFromConfig(mc))
			if err != nil {
				return fmt.Errorf("%s: %w", name, err)
			}
			if err := connector.Probe(ctx); err != nil {
				return fmt.Errorf("%s probe failed: %w", name, err)
			}
			fmt.Printf("%s: %s/%s reachable\n", name, connector.GetProvider(), connector.GetModel())
		}
	}

	fmt.Println("Configuration is valid")
	return nil
}
