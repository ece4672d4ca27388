package jobs

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/breqdev/portal-bridge-go/internal/repository"
)

// CleanupJob periodically prunes invocation history past the retention
// window.
type CleanupJob struct {
	invocationRepo repository.InvocationRepository
	retention      time.Duration
	interval       time.Duration
	done           chan struct{}
}

func NewCleanupJob(
	invocationRepo repository.InvocationRepository,
	retention time.Duration,
	interval time.Duration,
) *CleanupJob {
	return &CleanupJob{
		invocationRepo: invocationRepo,
		retention:      retention,
		interval:       interval,
		done:           make(chan struct{}),
	}
}

func (j *CleanupJob) Start() {
	go j.run()
	log.Info().Dur("interval", j.interval).Dur("retention", j.retention).Msg("cleanup job started")
}

func (j *CleanupJob) Stop() {
	close(j.done)
	log.Info().Msg("cleanup job stopped")
}

func (j *CleanupJob) run() {
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	j.cleanup()

	for {
		select {
		case <-j.done:
			return
		case <-ticker.C:
			j.cleanup()
		}
	}
}

func (j *CleanupJob) cleanup() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	cutoff := time.Now().Add(-j.retention)
	count, err := j.invocationRepo.DeleteOlderThan(ctx, cutoff)
	if err != nil {
		log.Error().Err(err).Msg("failed to clean up invocations")
	} else if count > 0 {
		log.Info().Int64("count", count).Time("cutoff", cutoff).Msg("cleaned up invocations")
	}
}
