package main

import (
	"context"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

const sweepTimeout = time.Hour

// sweep is a background job that never overlaps itself: a run requested
// while another is in flight is skipped, not queued.
type sweep struct {
	name string
	log  logrus.FieldLogger
	run  func(context.Context) (int, error)
	mu   sync.Mutex
}

// Run reports the job's count, or ran=false when a run was already active.
func (s *sweep) Run(ctx context.Context) (n int, ran bool, err error) {
	if !s.mu.TryLock() {
		s.log.WithField("job", s.name).Info("sweep already running, skipping")
		sweepsTotal.WithLabelValues(s.name, "skipped").Inc()
		return 0, false, nil
	}
	defer s.mu.Unlock()

	start := time.Now()
	n, err = s.run(ctx)
	log := s.log.WithFields(logrus.Fields{"job": s.name, "count": n, "elapsed": time.Since(start).Round(time.Millisecond)})
	if err != nil {
		sweepsTotal.WithLabelValues(s.name, "error").Inc()
		log.WithError(err).Error("sweep failed")
		return n, true, err
	}
	sweepsTotal.WithLabelValues(s.name, "ok").Inc()
	log.Info("sweep finished")
	return n, true, nil
}

// Job adapts the sweep to the cron scheduler.
func (s *sweep) Job() cron.Job {
	return cron.FuncJob(func() {
		ctx, cancel := context.WithTimeout(context.Background(), sweepTimeout)
		defer cancel()
		s.Run(ctx)
	})
}

// schedule registers both sweeps; an empty spec disables that sweep.
func (a *App) schedule(relaySpec, pruneSpec string) (*cron.Cron, error) {
	logger := cron.PrintfLogger(logrus.StandardLogger())
	c := cron.New(cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)))
	for _, elt := range []struct {
		spec string
		job  *sweep
	}{
		{relaySpec, a.relayJob},
		{pruneSpec, a.pruneJob},
	} {
		if elt.spec == "" {
			continue
		}
		if _, err := c.AddJob(elt.spec, elt.job.Job()); err != nil {
			return nil, err
		}
		a.Log.WithFields(logrus.Fields{"job": elt.job.name, "schedule": elt.spec}).Info("sweep scheduled")
	}
	return c, nil
}
