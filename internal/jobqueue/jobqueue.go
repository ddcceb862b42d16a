/*
Package jobqueue runs stored emails through the conversation service, either
on a River queue backed by Postgres or on an in-process Runner.

For configuration options and tuning parameters, see queue_config.go.
*/
package jobqueue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/riverqueue/river"
	"github.com/riverqueue/river/riverdriver/riverpgxv5"
	"github.com/riverqueue/river/rivermigrate"
	"github.com/rs/zerolog/log"

	"github.com/replydesk/internal/conversation"
	"github.com/replydesk/internal/inbox"
)

// Processor runs one stored email to a decision. *conversation.Service implements it.
type Processor interface {
	Process(ctx context.Context, emailID int64) *conversation.Result
}

// Enqueuer schedules an email for processing.
type Enqueuer interface {
	Enqueue(ctx context.Context, emailID int64) error
}

// ConversationJobArgs represents the arguments for a conversation job
type ConversationJobArgs struct {
	EmailID int64 `json:"email_id"`
}

// Kind returns the job kind for River
func (ConversationJobArgs) Kind() string {
	return "conversation"
}

// InsertOpts makes jobs unique by email so a message never runs twice concurrently.
func (ConversationJobArgs) InsertOpts() river.InsertOpts {
	return river.InsertOpts{
		UniqueOpts: river.UniqueOpts{ByArgs: true},
	}
}

// ConversationWorker handles conversation jobs
type ConversationWorker struct {
	river.WorkerDefaults[ConversationJobArgs]
	processor Processor
	timeout   time.Duration
}

// NewConversationWorker creates a worker that delegates to processor.
func NewConversationWorker(processor Processor, timeout time.Duration) *ConversationWorker {
	return &ConversationWorker{processor: processor, timeout: timeout}
}

// Timeout overrides River's default job timeout.
func (w *ConversationWorker) Timeout(*river.Job[ConversationJobArgs]) time.Duration {
	return w.timeout
}

// Work processes the email. Only infrastructure failures are returned, so
// River retries those and never re-runs a decided conversation.
func (w *ConversationWorker) Work(ctx context.Context, job *river.Job[ConversationJobArgs]) error {
	return runJob(ctx, w.processor, job.Args.EmailID, job.Attempt)
}

func runJob(ctx context.Context, processor Processor, emailID int64, attempt int) error {
	logger := log.With().Int64("email_id", emailID).Int("attempt", attempt).Logger()
	logger.Info().Msg("Processing conversation job")

	result := processor.Process(ctx, emailID)
	if result.Error != nil {
		logger.Error().Err(result.Error).Msg("Conversation job failed")
		if errors.Is(result.Error, inbox.ErrNotFound) {
			return river.JobCancel(result.Error)
		}
		return fmt.Errorf("process email %d: %w", emailID, result.Error)
	}

	logger.Info().
		Str("decision", string(result.Decision)).
		Str("reason", result.Reason).
		Bool("skipped", result.Skipped).
		Dur("duration", result.Duration).
		Msg("Conversation job completed")
	return nil
}

// JobQueue manages the River job queue
type JobQueue struct {
	client *river.Client[pgx.Tx]
	pool   *pgxpool.Pool
	config *QueueConfig
}

// NewJobQueue creates a new job queue instance over an existing pool.
func NewJobQueue(pool *pgxpool.Pool, processor Processor, config *QueueConfig) (*JobQueue, error) {
	if config == nil {
		config = DefaultQueueConfig()
	}

	workers := river.NewWorkers()
	river.AddWorker(workers, NewConversationWorker(processor, config.JobTimeout))

	client, err := river.NewClient(riverpgxv5.New(pool), &river.Config{
		Queues:      config.RiverQueueConfig(),
		Workers:     workers,
		MaxAttempts: config.MaxAttempts,
		JobTimeout:  config.JobTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create River client: %w", err)
	}

	return &JobQueue{
		client: client,
		pool:   pool,
		config: config,
	}, nil
}

// Migrate applies River's schema migrations.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	migrator, err := rivermigrate.New(riverpgxv5.New(pool), nil)
	if err != nil {
		return fmt.Errorf("failed to create River migrator: %w", err)
	}
	res, err := migrator.Migrate(ctx, rivermigrate.DirectionUp, nil)
	if err != nil {
		return fmt.Errorf("failed to migrate River schema: %w", err)
	}
	for _, v := range res.Versions {
		log.Info().Int("version", v.Version).Msg("Applied River migration")
	}
	return nil
}

// Start starts the job queue workers
func (jq *JobQueue) Start(ctx context.Context) error {
	return jq.client.Start(ctx)
}

// Stop stops the job queue workers
func (jq *JobQueue) Stop(ctx context.Context) error {
	return jq.client.Stop(ctx)
}

// Enqueue queues a conversation job. Duplicate inserts are skipped by River.
func (jq *JobQueue) Enqueue(ctx context.Context, emailID int64) error {
	res, err := jq.client.Insert(ctx, ConversationJobArgs{EmailID: emailID}, nil)
	if err != nil {
		return fmt.Errorf("failed to queue conversation job: %w", err)
	}
	if res.UniqueSkippedAsDuplicate {
		log.Debug().Int64("email_id", emailID).Msg("Conversation job already queued")
	}
	return nil
}

var (
	_ Enqueuer  = (*JobQueue)(nil)
	_ Processor = (*conversation.Service)(nil)
)
