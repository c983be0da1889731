package scheduler

import (
	"context"
	"time"
)

// runLoop is the scheduler's dedicated thread: it computes the idle time
// to the next pending job, sleeps min(idle, SafetyCap) so shutdown stays
// responsive and overdue jobs are never missed for long, then runs
// whatever became due. The run target is fixed before the sleep, so a job
// whose time passed during the sleep runs on that wake rather than
// waiting out the full interval again.
func (s *Scheduler) runLoop(ctx context.Context) {
	lastHeartbeat := time.Time{}

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		now := time.Now().In(s.cfg.Timezone)
		idle := s.idleToNextProcessorRun(now)
		due := now.Add(idle)

		sleepFor := idle
		if sleepFor > s.cfg.SafetyCap {
			sleepFor = s.cfg.SafetyCap
		}
		if sleepFor < 0 {
			sleepFor = 0
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(sleepFor):
		}

		now = time.Now().In(s.cfg.Timezone)
		if !now.Before(due) {
			s.runDueProcessor(ctx, now)
			s.runDueCleanup(ctx, now)
		}

		if s.cfg.HeartbeatInterval > 0 && now.Sub(lastHeartbeat) >= s.cfg.HeartbeatInterval {
			lastHeartbeat = now
			s.publish(SubjectListenerHeartbeat, ListenerHeartbeatEvent{Timestamp: now.UTC()})
		}
	}
}

// idleToNextProcessorRun returns the duration until today's (or, if
// already past or already run today, tomorrow's) scheduled processor
// time. The result is always positive: once today's time is reached it
// already points at tomorrow, so runLoop compares the wake time against
// the target it computed before sleeping.
func (s *Scheduler) idleToNextProcessorRun(now time.Time) time.Duration {
	next := s.nextProcessorRunTime(now)
	return next.Sub(now)
}

func (s *Scheduler) nextProcessorRunTime(now time.Time) time.Time {
	hh, mm := parseScheduleTime(s.cfg.ScheduleTime)
	today := time.Date(now.Year(), now.Month(), now.Day(), hh, mm, 0, 0, s.cfg.Timezone)

	alreadyRanToday := s.lastProcessorRunDate == now.Format("2006-01-02")
	if now.Before(today) && !alreadyRanToday {
		return today
	}
	return today.Add(24 * time.Hour)
}

func parseScheduleTime(s string) (hour, minute int) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 9, 0
	}
	return t.Hour(), t.Minute()
}

// runDueCleanup enforces the configured retention windows once a week,
// piggybacking on the daily processor tick so it runs at a quiet moment
// rather than on its own schedule. Sundays only, at most once per day.
func (s *Scheduler) runDueCleanup(ctx context.Context, now time.Time) {
	if !s.cfg.CleanupWeekly || now.Weekday() != time.Sunday {
		return
	}
	today := now.Format("2006-01-02")
	if s.lastCleanupRunDate == today {
		return
	}
	s.lastCleanupRunDate = today

	result, err := s.deps.Store.Cleanup(ctx, s.cfg.CleanupRawDays, s.cfg.CleanupPublishedDays)
	if err != nil {
		s.deps.Log.Error().Err(err).Msg("scheduler: weekly cleanup failed")
		return
	}
	s.deps.Log.Info().
		Int64("raw_removed", result.RawRemoved).
		Int64("published_removed", result.PublishedRemoved).
		Msg("scheduler: weekly cleanup complete")
}

func (s *Scheduler) runDueProcessor(ctx context.Context, now time.Time) {
	s.lastProcessorRunDate = now.Format("2006-01-02")
	s.deps.Log.Info().Str("scheduled_for", s.cfg.ScheduleTime).Msg("scheduler: daily processor tick firing")

	if _, err := s.RunProcessorOnce(ctx); err != nil {
		s.deps.Log.Error().Err(err).Msg("scheduler: scheduled processor run failed")
	}
}
