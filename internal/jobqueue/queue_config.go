/*
Package jobqueue configuration - tunable parameters for conversation processing.

## Quick Configuration Reference:

- MaxWorkers bounds how many conversations run at once. Each one holds an
  LLM call and a database connection, so keep it below the pool size.
- JobTimeout caps a single job. It should exceed agent.conversation_timeout
  so the loop escalates with "timeout" before River kills the job.
- MaxAttempts applies to infrastructure failures only (store errors). A
  conversation that reached a decision is never retried.

## Backends:

- "river" persists jobs in Postgres (river_job table, see Migrate).
- "inprocess" runs jobs in a bounded in-memory Runner. Jobs are lost on
  restart, but the poller re-enqueues nothing that was already stored, so
  lost jobs stay in status 'new' until reprocessed with `replydesk process`.
*/
package jobqueue

import (
	"time"

	"github.com/riverqueue/river"

	"github.com/replydesk/internal/config"
)

// Backend names accepted by queue.backend.
const (
	BackendRiver     = "river"
	BackendInProcess = "inprocess"
)

// QueueConfig holds all configurable parameters for the job queue
type QueueConfig struct {
	Backend     string
	MaxWorkers  int           // concurrent conversations (default: 4)
	MaxAttempts int           // River attempts per job (default: 5)
	JobTimeout  time.Duration // per-job cap (default: 3 minutes)
	Buffer      int           // in-process queue capacity (default: 64)
}

// DefaultQueueConfig returns the default configuration
func DefaultQueueConfig() *QueueConfig {
	return &QueueConfig{
		Backend:     BackendRiver,
		MaxWorkers:  4,
		MaxAttempts: 5,
		JobTimeout:  3 * time.Minute,
		Buffer:      64,
	}
}

// QueueConfigFrom overlays the loaded application config on the defaults.
func QueueConfigFrom(cfg *config.Config) *QueueConfig {
	qc := DefaultQueueConfig()
	if cfg == nil {
		return qc
	}
	if cfg.Queue.Backend != "" {
		qc.Backend = cfg.Queue.Backend
	}
	if cfg.Queue.MaxWorkers > 0 {
		qc.MaxWorkers = cfg.Queue.MaxWorkers
	}
	if cfg.Queue.JobTimeout > 0 {
		qc.JobTimeout = cfg.Queue.JobTimeout
	}
	// A job must outlive the conversation it runs.
	if floor := cfg.Agent.ConversationTimeout + 30*time.Second; cfg.Agent.ConversationTimeout > 0 && qc.JobTimeout < floor {
		qc.JobTimeout = floor
	}
	return qc
}

// RiverQueueConfig converts our config to River's queue configuration format
func (c *QueueConfig) RiverQueueConfig() map[string]river.QueueConfig {
	return map[string]river.QueueConfig{
		river.QueueDefault: {
			MaxWorkers: c.MaxWorkers,
		},
	}
}
