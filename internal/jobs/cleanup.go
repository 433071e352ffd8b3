package jobs

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
)

// SessionSweeper is the part of the session service the cleanup job drives.
type SessionSweeper interface {
	ExpireStale(ctx context.Context) (int, error)
	PurgeBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// CleanupJob expires sessions whose window closed with nobody asking about them,
// and purges finished sessions once they fall out of retention.
type CleanupJob struct {
	sweeper   SessionSweeper
	retention time.Duration
	interval  time.Duration
	now       func() time.Time
	done      chan struct{}
	stopped   chan struct{}
}

func NewCleanupJob(sweeper SessionSweeper, retention, interval time.Duration) *CleanupJob {
	return &CleanupJob{
		sweeper:   sweeper,
		retention: retention,
		interval:  interval,
		now:       time.Now,
		done:      make(chan struct{}),
		stopped:   make(chan struct{}),
	}
}

func (j *CleanupJob) Start() {
	go j.run()
	log.Info().Dur("interval", j.interval).Msg("cleanup job started")
}

// Stop ends the loop and waits for an in-progress sweep to finish.
func (j *CleanupJob) Stop() {
	close(j.done)
	<-j.stopped
	log.Info().Msg("cleanup job stopped")
}

func (j *CleanupJob) run() {
	defer close(j.stopped)

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

	j.runCleanup(ctx, "stale sessions", func(ctx context.Context) (int64, error) {
		n, err := j.sweeper.ExpireStale(ctx)
		return int64(n), err
	})
	j.runCleanup(ctx, "finished sessions", func(ctx context.Context) (int64, error) {
		return j.sweeper.PurgeBefore(ctx, j.now().Add(-j.retention))
	})
}

func (j *CleanupJob) runCleanup(ctx context.Context, name string, fn func(context.Context) (int64, error)) {
	count, err := fn(ctx)
	if err != nil {
		log.Error().Err(err).Msgf("failed to cleanup %s", name)
	} else if count > 0 {
		log.Info().Int64("count", count).Msgf("cleaned up %s", name)
	}
}
