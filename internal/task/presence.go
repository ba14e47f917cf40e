package task

import (
	"context"

	"medalbot/internal/bili"
	logx "medalbot/pkg/logx"
)

// PresenceResult is a session's terminal state.
type PresenceResult int

const (
	PresenceCompleted PresenceResult = iota // watched-minutes floor reached
	PresenceCapped                          // attempt cap hit before the floor
	PresenceFailed                          // a query or heartbeat failed
)

func (r PresenceResult) String() string {
	switch r {
	case PresenceCompleted:
		return "completed"
	case PresenceCapped:
		return "capped"
	case PresenceFailed:
		return "failed"
	}
	return "unknown"
}

// presenceSession drives one target's watch task: measure, then heartbeat
// once a minute until the floor is reached or the attempt cap fires. At
// most one session exists per account, by construction of the manager
// loop that creates it.
type presenceSession struct {
	cli    bili.Client
	t      Target
	cfg    Config
	timing Timing
	log    logx.Logger

	attempts int
}

func (s *presenceSession) watchedMinutes(ctx context.Context) (int64, error) {
	raw, err := s.cli.WatchProgress(ctx, s.t.ID)
	if err != nil {
		return 0, err
	}
	return raw * s.cfg.scale(), nil
}

func (s *presenceSession) run(ctx context.Context) PresenceResult {
	watched, err := s.watchedMinutes(ctx)
	if err != nil {
		s.log.Warn("watch progress query failed", logx.String("name", s.t.Name), logx.Err(err))
		return PresenceFailed
	}
	if watched >= int64(s.cfg.TargetMinutes) {
		return PresenceCompleted
	}
	s.log.Info("presence session started",
		logx.String("name", s.t.Name),
		logx.Int64("remaining_minutes", int64(s.cfg.TargetMinutes)-watched))

	for {
		watched, err := s.watchedMinutes(ctx)
		if err != nil {
			s.log.Warn("watch progress query failed", logx.String("name", s.t.Name), logx.Err(err))
			return PresenceFailed
		}
		if watched >= int64(s.cfg.TargetMinutes) {
			s.log.Info("presence target reached",
				logx.String("name", s.t.Name), logx.Int64("watched_minutes", watched))
			return PresenceCompleted
		}
		if s.attempts >= s.cfg.MaxAttempts {
			return PresenceCapped
		}
		if err := s.cli.Heartbeat(ctx, s.t.RoomID, s.t.ID); err != nil {
			s.log.Warn("heartbeat failed", logx.String("name", s.t.Name), logx.Err(err))
			return PresenceFailed
		}
		s.attempts++
		if !sleepCtx(ctx, s.timing.HeartbeatGap) {
			return PresenceFailed
		}
	}
}
