package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/google/uuid"
	"github.com/urfave/cli/v2"

	"github.com/replydesk/internal/actions"
	"github.com/replydesk/internal/agent"
	"github.com/replydesk/internal/capture"
	"github.com/replydesk/internal/conversation"
	"github.com/replydesk/internal/inbox"
	"github.com/replydesk/internal/mail"
)

// ProcessCommand returns the process command
func ProcessCommand() *cli.Command {
	return &cli.Command{
		Name:  "process",
		Usage: "Run one email through the agent and print the outcome",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:    "dry-run",
				Aliases: []string{"d"},
				Usage:   "Log the reply instead of sending it, and do not store the email",
			},
			&cli.StringFlag{
				Name:  "from",
				Usage: "Sender address",
			},
			&cli.StringFlag{
				Name:  "subject",
				Usage: "Subject line",
				Value: mail.NoSubject,
			},
			&cli.StringFlag{
				Name:  "body",
				Usage: "Plain-text body",
			},
			&cli.StringFlag{
				Name:    "capture",
				Usage:   "Write the outcome and transcript as a JSON fixture under `DIR`",
				EnvVars: []string{capture.EnvDir},
			},
			&cli.BoolFlag{
				Name:    "verbose",
				Aliases: []string{"v"},
				Usage:   "Include the transcript in the printed outcome",
			},
		},
		ArgsUsage: "[MESSAGE.eml]",
		Action:    runProcess,
	}
}

// processOutput is what process prints.
type processOutput struct {
	*conversation.Result
	Error string `json:"error,omitempty"`
}

func runProcess(c *cli.Context) error {
	msg, err := messageFromArgs(c)
	if err != nil {
		return err
	}

	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}

	dryRun := c.Bool("dry-run")
	var responder actions.Responder
	if dryRun {
		responder = mail.NewLogResponder()
	}

	ctx := c.Context
	rt, err := buildRuntime(ctx, cfg, responder)
	if err != nil {
		return err
	}
	defer rt.Close()

	var result *conversation.Result
	if dryRun {
		result = rt.service.ProcessMessage(ctx, agent.Message{
			From:    msg.From,
			Subject: msg.Subject,
			Body:    msg.Body,
		})
	} else {
		id, err := storeMessage(ctx, rt, msg)
		if err != nil {
			return err
		}
		result = rt.service.Process(ctx, id)
	}

	out := processOutput{Result: result}
	if result.Error != nil {
		out.Error = result.Error.Error()
	}

	if dir := c.String("capture"); dir != "" {
		path, err := capture.New(dir).WriteJSON("conversation", out)
		if err != nil {
			return err
		}
		fmt.Fprintf(os.Stderr, "Captured conversation to %s\n", path)
	}
	if !c.Bool("verbose") {
		trimmed := *result
		trimmed.Transcript = nil
		out.Result = &trimmed
	}
	encoded, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode result: %w", err)
	}
	fmt.Println(string(encoded))

	if result.Error != nil {
		return result.Error
	}
	return nil
}

// messageFromArgs reads an .eml argument, or falls back to --from/--subject/--body.
func messageFromArgs(c *cli.Context) (inbox.Message, error) {
	if c.NArg() > 0 {
		path := c.Args().Get(0)
		f, err := os.Open(path)
		if err != nil {
			return inbox.Message{}, fmt.Errorf("failed to open %s: %w", path, err)
		}
		defer f.Close()

		msg, err := mail.ParseMessage(f)
		if err != nil {
			return inbox.Message{}, fmt.Errorf("failed to parse %s: %w", path, err)
		}
		return msg, nil
	}

	msg := inbox.Message{
		From:    strings.TrimSpace(c.String("from")),
		Subject: strings.TrimSpace(c.String("subject")),
		Body:    c.String("body"),
	}
	if msg.From == "" || strings.TrimSpace(msg.Body) == "" {
		return inbox.Message{}, fmt.Errorf("either MESSAGE.eml or both --from and --body are required")
	}
	if msg.Subject == "" {
		msg.Subject = mail.NoSubject
	}
	return msg, nil
}

func storeMessage(ctx context.Context, rt *runtime, msg inbox.Message) (int64, error) {
	if msg.MessageID == "" {
		msg.MessageID = fmt.Sprintf("<cli.%s@replydesk>", uuid.NewString())
	}

	id, created, err := rt.emails.InsertIfAbsent(ctx, msg)
	if err != nil {
		return 0, fmt.Errorf("failed to store email: %w", err)
	}
	if created {
		_ = rt.sink.Append(ctx, id, actions.EventIngested, map[string]any{
			"from":    msg.From,
			"subject": msg.Subject,
			"source":  "cli",
		})
	}
	return id, nil
}
