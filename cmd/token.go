package cmd

import (
	"fmt"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/replydesk/internal/api"
)

// TokenCommand returns the token command
func TokenCommand() *cli.Command {
	return &cli.Command{
		Name:  "token",
		Usage: "Mint an operator bearer token for the API",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "subject",
				Aliases:  []string{"s"},
				Usage:    "Operator identity recorded in the token",
				Required: true,
			},
			&cli.DurationFlag{
				Name:  "ttl",
				Usage: "Token lifetime",
				Value: 24 * time.Hour,
			},
		},
		Action: runToken,
	}
}

func runToken(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}

	token, err := api.MintToken(cfg.API.JWTSecret, c.String("subject"), c.Duration("ttl"))
	if err != nil {
		return fmt.Errorf("failed to mint token: %w", err)
	}

	fmt.Println(token)
	return nil
}
