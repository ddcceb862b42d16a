// Package poller moves unread mail from the inbox into the email store and
// schedules each stored email for a conversation.
package poller

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/replydesk/internal/actions"
	"github.com/replydesk/internal/inbox"
)

// State is the poller's externally visible state.
type State string

const (
	StateIdle    State = "idle"
	StatePolling State = "polling"
	StateManual  State = "manual"
)

// DefaultInterval is used when Config.Interval is unset.
const DefaultInterval = 10 * time.Second

// Fetcher returns unread messages. *mail.IMAPInbox implements it.
type Fetcher interface {
	FetchUnread(ctx context.Context) ([]inbox.Message, error)
}

// Store persists messages idempotently. *inbox.EmailsRepo implements it.
type Store interface {
	InsertIfAbsent(ctx context.Context, msg inbox.Message) (int64, bool, error)
}

// Enqueuer schedules a stored email for processing.
type Enqueuer interface {
	Enqueue(ctx context.Context, emailID int64) error
}

// Config holds the poller configuration
type Config struct {
	Interval time.Duration
}

// Status is a snapshot for the status endpoint.
type Status struct {
	State      State     `json:"state"`
	LastPollAt time.Time `json:"last_poll_at,omitempty"`
	LastError  string    `json:"last_error,omitempty"`
	Ingested   int       `json:"ingested"`
	Cycles     int       `json:"cycles"`
}

// Poller runs fetch cycles on an interval or on demand.
type Poller struct {
	fetcher  Fetcher
	store    Store
	enqueuer Enqueuer
	audit    actions.AuditSink
	interval time.Duration
	trigger  chan struct{}

	mu     sync.Mutex
	status Status
}

// New creates a poller. audit may be nil.
func New(fetcher Fetcher, store Store, enqueuer Enqueuer, audit actions.AuditSink, cfg Config) *Poller {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	return &Poller{
		fetcher:  fetcher,
		store:    store,
		enqueuer: enqueuer,
		audit:    audit,
		interval: cfg.Interval,
		trigger:  make(chan struct{}, 1),
		status:   Status{State: StateIdle},
	}
}

// Status returns a copy of the current status.
func (p *Poller) Status() Status {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.status
}

// Trigger requests an immediate cycle. Requests made while one is already
// pending are coalesced.
func (p *Poller) Trigger() {
	p.mu.Lock()
	if p.status.State == StateIdle {
		p.status.State = StateManual
	}
	p.mu.Unlock()

	select {
	case p.trigger <- struct{}{}:
	default:
	}
}

// Run polls until ctx is cancelled. The first cycle starts immediately.
func (p *Poller) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	log.Info().Dur("interval", p.interval).Msg("Poller started")
	for {
		p.cycle(ctx)

		select {
		case <-ctx.Done():
			log.Info().Msg("Poller stopped")
			return nil
		case <-ticker.C:
		case <-p.trigger:
		}
	}
}

func (p *Poller) cycle(ctx context.Context) {
	n, err := p.PollOnce(ctx)
	if err != nil && ctx.Err() == nil {
		log.Error().Err(err).Msg("Poll cycle failed")
	} else if n > 0 {
		log.Info().Int("ingested", n).Msg("Poll cycle ingested mail")
	}
}

// PollOnce runs a single fetch cycle and returns how many new emails were stored.
// A message that fails to store or enqueue is logged and skipped.
func (p *Poller) PollOnce(ctx context.Context) (int, error) {
	p.setState(StatePolling)

	ingested := 0
	messages, err := p.fetcher.FetchUnread(ctx)
	if err == nil {
		for _, msg := range messages {
			if ctx.Err() != nil {
				break
			}
			if p.ingest(ctx, msg) {
				ingested++
			}
		}
	}

	p.mu.Lock()
	p.status.State = StateIdle
	p.status.LastPollAt = time.Now()
	p.status.Cycles++
	p.status.Ingested += ingested
	p.status.LastError = ""
	if err != nil {
		p.status.LastError = err.Error()
	}
	p.mu.Unlock()

	return ingested, err
}

func (p *Poller) ingest(ctx context.Context, msg inbox.Message) bool {
	logger := log.With().Str("message_id", msg.MessageID).Logger()

	id, created, err := p.store.InsertIfAbsent(ctx, msg)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to store email")
		return false
	}

	if created && p.audit != nil {
		payload := map[string]any{"from": msg.From, "subject": msg.Subject}
		if err := p.audit.Append(ctx, id, actions.EventIngested, payload); err != nil {
			logger.Warn().Err(err).Msg("Failed to record ingestion")
		}
	}

	// Already-stored emails are enqueued again; the queue and the service
	// both ignore emails that are running or decided.
	if err := p.enqueuer.Enqueue(ctx, id); err != nil {
		logger.Error().Err(err).Int64("email_id", id).Msg("Failed to enqueue conversation")
	}
	return created
}

func (p *Poller) setState(s State) {
	p.mu.Lock()
	p.status.State = s
	p.mu.Unlock()
}
