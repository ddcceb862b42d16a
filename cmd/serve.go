package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v2"
	"golang.org/x/sync/errgroup"

	"github.com/replydesk/internal/api"
	"github.com/replydesk/internal/config"
	"github.com/replydesk/internal/jobqueue"
	"github.com/replydesk/internal/mail"
	"github.com/replydesk/internal/poller"
)

// ServeCommand returns the CLI command for running the poller, workers and API
func ServeCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Poll the mailbox, answer mail and serve the operator API",
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:    "port",
				Aliases: []string{"p"},
				Usage:   "Port for the API server (overrides api.port)",
			},
		},
		Action: runServe,
	}
}

func runServe(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	if err := config.Validate(cfg); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if port := c.Int("port"); port > 0 {
		cfg.API.Port = port
	}

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	rt, err := buildRuntime(ctx, cfg, nil)
	if err != nil {
		return err
	}
	defer rt.Close()

	g, ctx := errgroup.WithContext(ctx)

	queueCfg := jobqueue.QueueConfigFrom(cfg)
	var enqueuer jobqueue.Enqueuer
	switch queueCfg.Backend {
	case jobqueue.BackendInProcess:
		runner := jobqueue.NewRunner(rt.service, queueCfg)
		enqueuer = runner
		g.Go(func() error { return runner.Run(ctx) })
	default:
		queue, err := jobqueue.NewJobQueue(rt.pool, rt.service, queueCfg)
		if err != nil {
			return err
		}
		if err := queue.Start(ctx); err != nil {
			return fmt.Errorf("failed to start job queue: %w", err)
		}
		enqueuer = queue
		g.Go(func() error {
			<-ctx.Done()
			return queue.Stop(context.WithoutCancel(ctx))
		})
	}

	p := poller.New(
		mail.NewIMAPInbox(mail.IMAPConfig{
			Host:     cfg.IMAP.Host,
			Port:     cfg.IMAP.Port,
			Username: cfg.IMAP.Username,
			Password: cfg.IMAP.Password,
			Mailbox:  cfg.IMAP.Mailbox,
		}),
		rt.emails,
		enqueuer,
		rt.sink,
		poller.Config{Interval: cfg.Poller.Interval},
	)
	g.Go(func() error { return p.Run(ctx) })

	server := api.NewServer(cfg.API.Port, api.Deps{
		Poller:      p,
		Events:      rt.events,
		Escalations: rt.emails,
		JWTSecret:   cfg.API.JWTSecret,
	})
	g.Go(func() error { return server.Start(ctx) })

	log.Info().
		Str("queue", queueCfg.Backend).
		Int("workers", queueCfg.MaxWorkers).
		Int("port", cfg.API.Port).
		Msg("ReplyDesk serving")

	if err := g.Wait(); err != nil {
		return err
	}
	log.Info().Msg("ReplyDesk stopped")
	return nil
}
