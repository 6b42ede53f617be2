package workers

import (
	"context"
	"log/slog"

	application "marquee/contexts/live-engagement/poll-engine/application"
	"marquee/contexts/live-engagement/poll-engine/application/commands"
)

// PollCloser sweeps active polls whose closing time has passed and closes
// them through the same path as a manual close, so final results and the
// closure broadcast fire exactly once.
type PollCloser struct {
	Polls  commands.PollUseCase
	Logger *slog.Logger
}

func (j PollCloser) RunOnce(ctx context.Context) error {
	logger := application.ResolveLogger(j.Logger)
	closed, err := j.Polls.CloseExpired(ctx)
	if err != nil {
		logger.Error("poll expiry sweep failed",
			"event", "poll_expiry_sweep_failed",
			"module", "live-engagement/poll-engine",
			"layer", "worker",
			"error", err.Error(),
		)
		return err
	}
	if closed > 0 {
		logger.Info("poll expiry sweep completed",
			"event", "poll_expiry_sweep_completed",
			"module", "live-engagement/poll-engine",
			"layer", "worker",
			"closed_count", closed,
		)
	}
	return nil
}
