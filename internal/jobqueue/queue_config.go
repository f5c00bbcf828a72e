/*
Package jobqueue configuration - tunable parameters for the River job queue.

Indexing a large repository means one embedding call per fragment, so a big
snapshot can run for minutes. The queue keeps that work off the request path:
ingestion enqueues a repo_index job and returns immediately, and River owns
retries when the embedding provider misbehaves.

Tuning notes:
- MaxWorkers bounds concurrent indexing jobs, which in turn bounds concurrent
  embedding traffic. Raise it only if the provider rate limit has headroom.
- MaxRetries and JobTimeout trade reliability against how long a bad snapshot
  can occupy a worker.
*/
package jobqueue

import (
	"time"

	"github.com/riverqueue/river"
)

// QueueConfig holds all configurable parameters for the job queue.
type QueueConfig struct {
	MaxWorkers int           // concurrent indexing jobs (default: 4)
	MaxRetries int           // retry attempts per job (default: 10)
	JobTimeout time.Duration // maximum time a single indexing job can run
}

// DefaultQueueConfig returns the baseline configuration.
func DefaultQueueConfig() *QueueConfig {
	return &QueueConfig{
		// Each worker drives its own stream of embedding calls; four keeps a
		// typical provider rate limit comfortable.
		MaxWorkers: 4,
		MaxRetries: 10,
		JobTimeout: 15 * time.Minute,
	}
}

// DevelopmentQueueConfig fails faster for local iteration.
func DevelopmentQueueConfig() *QueueConfig {
	config := DefaultQueueConfig()
	config.MaxWorkers = 2
	config.MaxRetries = 3
	config.JobTimeout = 2 * time.Minute
	return config
}

// RiverQueueConfig converts our config to River's queue configuration format.
func (c *QueueConfig) RiverQueueConfig() map[string]river.QueueConfig {
	return map[string]river.QueueConfig{
		river.QueueDefault: {
			MaxWorkers: c.MaxWorkers,
		},
	}
}
