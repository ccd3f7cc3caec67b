package app

import (
	"context"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"kanban/api/internal/lease"
)

// Scheduler periodically refreshes deadline notifications for every team.
// A team is scanned by whichever replica takes its lease; the lease is left
// to expire so other replicas skip the team for the rest of the interval.
// DefaultScanInterval is used when NewScheduler is given a non-positive interval.
const DefaultScanInterval = time.Minute

type Scheduler struct {
	service  *Service
	lease    lease.Lease
	interval time.Duration
	ttl      time.Duration
	workers  int
}

func NewScheduler(service *Service, l lease.Lease, interval, ttl time.Duration) *Scheduler {
	if l == nil {
		l = lease.Noop{}
	}
	if interval <= 0 {
		interval = DefaultScanInterval
	}
	if ttl <= 0 || ttl >= interval {
		ttl = interval * 9 / 10
	}
	return &Scheduler{service: service, lease: l, interval: interval, ttl: ttl, workers: 4}
}

// Run scans once immediately and then on every tick until ctx is done.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		if _, err := s.RunOnce(ctx); err != nil && ctx.Err() == nil {
			log.WithError(err).Warn("deadline scan failed")
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// RunOnce scans every team whose lease it can take and returns how many
// tasks were recomputed.
func (s *Scheduler) RunOnce(ctx context.Context) (int, error) {
	teamIDs, err := s.service.TeamIDs(ctx)
	if err != nil {
		return 0, err
	}

	counts := make([]int, len(teamIDs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.workers)
	for i, teamID := range teamIDs {
		g.Go(func() error {
			name := "deadlines:" + teamID
			ok, err := s.lease.Acquire(gctx, name, s.ttl)
			if err != nil {
				return err
			}
			if !ok {
				return nil
			}
			n, err := s.service.ScanDeadlines(gctx, teamID)
			if err != nil {
				// let another replica retry before the lease runs out
				if rerr := s.lease.Release(context.WithoutCancel(gctx), name); rerr != nil {
					log.WithError(rerr).WithField("team_id", teamID).Warn("release scan lease")
				}
				return err
			}
			counts[i] = n
			return nil
		})
	}
	err = g.Wait()

	total := 0
	for _, n := range counts {
		total += n
	}
	if total > 0 {
		log.WithFields(log.Fields{"teams": len(teamIDs), "recomputed": total}).Info("deadline scan finished")
	}
	return total, err
}
