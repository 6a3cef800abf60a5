package core

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-co-op/gocron/v2"
)

// ExpirySweeper periodically marks overdue open bounties as expired. It moves
// no funds: swept rewards stay locked in escrow like a late submission.
type ExpirySweeper struct {
	node      *Node
	interval  time.Duration
	scheduler gocron.Scheduler
	logger    *slog.Logger
}

// NewExpirySweeper schedules node.SweepExpired every interval. Call Start to
// begin running it.
func NewExpirySweeper(node *Node, interval time.Duration, logger *slog.Logger) (*ExpirySweeper, error) {
	if node == nil {
		return nil, fmt.Errorf("sweeper: node required")
	}
	if interval <= 0 {
		return nil, fmt.Errorf("sweeper: interval must be positive")
	}
	if logger == nil {
		logger = slog.Default()
	}
	scheduler, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("sweeper: scheduler: %w", err)
	}
	s := &ExpirySweeper{
		node:      node,
		interval:  interval,
		scheduler: scheduler,
		logger:    logger.With(slog.String("component", "sweeper")),
	}
	_, err = scheduler.NewJob(
		gocron.DurationJob(interval),
		gocron.NewTask(s.sweep),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		_ = scheduler.Shutdown()
		return nil, fmt.Errorf("sweeper: schedule job: %w", err)
	}
	return s, nil
}

// Start begins running scheduled sweeps.
func (s *ExpirySweeper) Start() {
	s.logger.Info("expiry sweeper started", slog.Duration("interval", s.interval))
	s.scheduler.Start()
}

// Stop waits for a running sweep to finish and stops the scheduler.
func (s *ExpirySweeper) Stop() error {
	return s.scheduler.Shutdown()
}

func (s *ExpirySweeper) sweep() {
	ctx, cancel := context.WithTimeout(context.Background(), s.interval)
	defer cancel()
	swept, err := s.node.SweepExpired(ctx)
	if err != nil {
		s.logger.Warn("expiry sweep failed", slog.String("error", err.Error()))
		return
	}
	if len(swept) > 0 {
		s.logger.Info("expired overdue bounties", slog.Int("count", len(swept)), slog.Any("ids", swept))
	}
}
