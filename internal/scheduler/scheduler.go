package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"

	"EquitySync/internal/coordinator"
	"EquitySync/internal/model"
	"EquitySync/internal/notifier"
)

// Runner is the part of the coordinator the scheduler drives.
type Runner interface {
	RunPass(ctx context.Context) (*model.PassReport, error)
}

// Scheduler runs synchronization passes on a cron schedule.
type Scheduler struct {
	Cron   *cron.Cron
	Runner Runner
	Ctx    context.Context
}

// NewScheduler creates a new Scheduler. Cron expressions include seconds.
func NewScheduler(ctx context.Context, runner Runner) *Scheduler {
	return &Scheduler{
		Cron:   cron.New(cron.WithSeconds()),
		Runner: runner,
		Ctx:    ctx,
	}
}

// Register adds the sync task.
func (s *Scheduler) Register(syncCron string) error {
	if _, err := s.Cron.AddFunc(syncCron, s.syncTask); err != nil {
		return fmt.Errorf("register sync task: %w", err)
	}
	return nil
}

// Start starts the cron scheduler.
func (s *Scheduler) Start() {
	s.Cron.Start()
	log.Info().Int("tasks", len(s.Cron.Entries())).Msg("scheduler started")
}

// Stop stops the scheduler and waits for a running pass to finish.
func (s *Scheduler) Stop() {
	<-s.Cron.Stop().Done()
	log.Info().Msg("scheduler stopped")
}

// RunNow executes a pass immediately (manual trigger / run on start).
func (s *Scheduler) RunNow() (*model.PassReport, error) {
	return s.run()
}

func (s *Scheduler) syncTask() {
	_, _ = s.run()
}

func (s *Scheduler) run() (*model.PassReport, error) {
	log.Info().Msg("running sync task")
	report, err := s.Runner.RunPass(s.Ctx)
	if errors.Is(err, coordinator.ErrPassInProgress) {
		log.Warn().Msg("previous pass still running, skipping")
		return nil, err
	}
	if err != nil {
		log.Error().Err(err).Msg("sync pass")
		return nil, err
	}
	return report, nil
}

// StatusFunc renders the current freshness state for chat replies.
type StatusFunc func() string

// CommandHandler returns a chat command handler: /sync runs a pass, /status
// reports freshness.
func (s *Scheduler) CommandHandler(status StatusFunc) notifier.CommandHandler {
	return func(_ context.Context, command string) string {
		fields := strings.Fields(strings.ToLower(command))
		if len(fields) == 0 {
			return help
		}
		switch fields[0] {
		case "/sync":
			// On success the coordinator sends the summary itself.
			if _, err := s.run(); err != nil {
				return fmt.Sprintf("❌ sync failed: %v", err)
			}
			return ""
		case "/status":
			if status == nil {
				return "status unavailable"
			}
			return status()
		default:
			return help
		}
	}
}

const help = "Commands:\n• /sync run a pass now\n• /status show last dates"
