package cmd

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v2"

	"github.com/replydesk/internal/actions"
	"github.com/replydesk/internal/agent"
	"github.com/replydesk/internal/aiconnectors"
	"github.com/replydesk/internal/audit"
	"github.com/replydesk/internal/config"
	"github.com/replydesk/internal/conversation"
	"github.com/replydesk/internal/database"
	"github.com/replydesk/internal/guardrails"
	"github.com/replydesk/internal/inbox"
	"github.com/replydesk/internal/knowledge"
	"github.com/replydesk/internal/llm"
	"github.com/replydesk/internal/logging"
	"github.com/replydesk/internal/mail"
)

// engineCallTimeout bounds a single model call inside the resilient engine.
const engineCallTimeout = 60 * time.Second

// loadConfig reads the --config file and applies the logging section.
func loadConfig(c *cli.Context) (*config.Config, error) {
	cfg, err := config.LoadConfig(c.String("config"))
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := logging.Setup(cfg.Logging.Level, cfg.Logging.Format); err != nil {
		return nil, fmt.Errorf("invalid logging level %q: %w", cfg.Logging.Level, err)
	}
	return cfg, nil
}

// runtime holds everything a conversation needs.
type runtime struct {
	cfg     *config.Config
	db      *sql.DB
	pool    *pgxpool.Pool
	emails  *inbox.EmailsRepo
	events  *audit.EventsRepo
	sink    *audit.Sink
	redact  *guardrails.Redactor
	service *conversation.Service
}

func (r *runtime) Close() {
	if r.pool != nil {
		r.pool.Close()
	}
	if r.db != nil {
		_ = r.db.Close()
	}
}

// openStores connects both database handles.
func openStores(ctx context.Context, cfg *config.Config) (*runtime, error) {
	db, err := database.NewDB(ctx, cfg.Database.URL)
	if err != nil {
		return nil, err
	}
	pool, err := database.NewPool(ctx, cfg.Database.URL)
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	redactor, err := guardrails.NewRedactor(cfg.Guardrails.RedactKey)
	if err != nil {
		_ = db.Close()
		pool.Close()
		return nil, err
	}
	var sinkOpts []audit.SinkOption
	if cfg.Guardrails.RedactAudit {
		sinkOpts = append(sinkOpts, audit.WithRedactor(redactor))
	}

	events := audit.NewEventsRepo(db)
	return &runtime{
		cfg:    cfg,
		db:     db,
		pool:   pool,
		emails: inbox.NewEmailsRepo(db),
		events: events,
		sink:   audit.NewSink(events, sinkOpts...),
		redact: redactor,
	}, nil
}

// buildRuntime wires stores, models, knowledge and the agent loop. A nil
// responder selects SMTP delivery.
func buildRuntime(ctx context.Context, cfg *config.Config, responder actions.Responder) (*runtime, error) {
	rt, err := openStores(ctx, cfg)
	if err != nil {
		return nil, err
	}

	service, err := rt.buildService(ctx, responder)
	if err != nil {
		rt.Close()
		return nil, err
	}
	rt.service = service
	return rt, nil
}

func (r *runtime) buildService(ctx context.Context, responder actions.Responder) (*conversation.Service, error) {
	cfg := r.cfg

	reasoner, err := aiconnectors.NewConnector(ctx, aiconnectors.OptionsFromConfig(cfg.LLM))
	if err != nil {
		return nil, fmt.Errorf("failed to create reasoning model: %w", err)
	}
	judgeModel, err := aiconnectors.NewConnector(ctx, aiconnectors.OptionsFromConfig(cfg.Judge))
	if err != nil {
		return nil, fmt.Errorf("failed to create judge model: %w", err)
	}

	embedder, err := aiconnectors.NewEmbedder(cfg.Embeddings)
	if err != nil {
		return nil, fmt.Errorf("failed to create embedder: %w", err)
	}
	store, err := knowledge.NewPGVectorStore(ctx, r.pool, embedder, cfg.Knowledge.Collection, false)
	if err != nil {
		return nil, err
	}

	if responder == nil {
		responder, err = mail.NewSMTPResponder(mail.SMTPConfig{
			Host:          cfg.SMTP.Host,
			Port:          cfg.SMTP.Port,
			Username:      cfg.SMTP.Username,
			Password:      cfg.SMTP.Password,
			From:          cfg.SMTP.From,
			RatePerMinute: cfg.SMTP.RatePerMinute,
		}, cfg.Retry)
		if err != nil {
			return nil, fmt.Errorf("failed to create smtp responder: %w", err)
		}
	}

	registry, err := actions.NewStandardRegistry(actions.Collaborators{
		Retriever: knowledge.NewRetriever(store),
		Responder: responder,
		Audit:     r.sink,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to register actions: %w", err)
	}

	validatorOpts := []guardrails.Option{guardrails.WithRedactor(r.redact)}
	if cfg.Guardrails.SecretScan {
		scanner, err := guardrails.NewGitleaksScanner()
		if err != nil {
			return nil, fmt.Errorf("failed to load secret rules: %w", err)
		}
		validatorOpts = append(validatorOpts, guardrails.WithSecretScanner(scanner))
	}
	validator := guardrails.NewValidator(llm.NewModelJudge(judgeModel.Model(), cfg.Retry), validatorOpts...)

	engine := llm.NewResilientEngine(
		llm.NewToolEngine(reasoner.Model(), reasoner.GetModel(), reasoner.CallOptions()...),
		cfg.Retry,
		engineCallTimeout,
	)

	var agentOpts []agent.Option
	if cfg.Guardrails.InjectionScreen {
		agentOpts = append(agentOpts, agent.WithScreener(guardrails.NewInjectionScreen(cfg.Guardrails.InjectionThreshold)))
	}

	orchestrator := agent.NewOrchestrator(
		engine,
		actions.NewDispatcher(registry, r.sink),
		validator,
		responder,
		r.sink,
		agent.Config{
			MaxLoops:       cfg.Agent.MaxLoops,
			DeliveryPolicy: agent.DeliveryPolicy(cfg.Agent.DeliveryPolicy),
		},
		agentOpts...,
	)

	log.Info().
		Str("llm", string(reasoner.GetProvider())+"/"+reasoner.GetModel()).
		Str("judge", string(judgeModel.GetProvider())+"/"+judgeModel.GetModel()).
		Str("collection", cfg.Knowledge.Collection).
		Str("delivery_policy", cfg.Agent.DeliveryPolicy).
		Bool("redact_audit", cfg.Guardrails.RedactAudit).
		Bool("injection_screen", cfg.Guardrails.InjectionScreen).
		Msg("Conversation runtime ready")

	return conversation.NewService(r.emails, orchestrator, r.sink, conversation.Config{
		ConversationTimeout: cfg.Agent.ConversationTimeout,
	}), nil
}
