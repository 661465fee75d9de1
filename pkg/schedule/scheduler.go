// Package schedule runs the background pipeline jobs on cron expressions.
// The insight scan and the ritual syntheses are explicit scheduled jobs
// rather than side effects of UI fetches.
package schedule

import (
	"context"
	"sync"
	"time"

	"github.com/adhocore/gronx"
	"github.com/rs/zerolog"

	"github.com/dotsetgreg/companion/pkg/config"
	"github.com/dotsetgreg/companion/pkg/logger"
	"github.com/dotsetgreg/companion/pkg/memory"
)

const jobTimeout = 5 * time.Minute

type job struct {
	name string
	expr string
	run  func(ctx context.Context, userID string) error
}

// Scheduler ticks once a minute and fires each job whose cron expression is
// due, for every known user. Job failures are logged and never fatal.
type Scheduler struct {
	svc    *memory.Service
	jobs   []job
	cron   *gronx.Gronx
	log    zerolog.Logger
	stopCh chan struct{}
	wg     sync.WaitGroup

	mu       sync.Mutex
	lastFire map[string]string
}

func NewScheduler(cfg *config.Config, svc *memory.Service) *Scheduler {
	s := &Scheduler{
		svc:      svc,
		cron:     gronx.New(),
		log:      logger.Component("schedule"),
		stopCh:   make(chan struct{}),
		lastFire: make(map[string]string),
	}

	s.jobs = []job{
		{
			name: "insight_scan",
			expr: cfg.Schedule.InsightCron,
			run: func(ctx context.Context, userID string) error {
				_, err := svc.ScanInsights(ctx, userID)
				return err
			},
		},
		{
			name: "daily_recap",
			expr: cfg.Schedule.DailyCron,
			run: func(ctx context.Context, userID string) error {
				_, err := svc.GenerateRitual(ctx, userID, memory.RitualDaily)
				return err
			},
		},
		{
			name: "weekly_reset",
			expr: cfg.Schedule.WeeklyCron,
			run: func(ctx context.Context, userID string) error {
				_, err := svc.GenerateRitual(ctx, userID, memory.RitualWeekly)
				return err
			},
		},
	}
	return s
}

func (s *Scheduler) Start() {
	for _, j := range s.jobs {
		if !s.cron.IsValid(j.expr) {
			s.log.Error().Str("job", j.name).Str("cron", j.expr).Msg("invalid cron expression, job disabled")
		}
	}

	s.wg.Add(1)
	go s.loop()
	s.log.Info().Int("jobs", len(s.jobs)).Msg("scheduler started")
}

func (s *Scheduler) Stop() {
	close(s.stopCh)
	s.wg.Wait()
}

func (s *Scheduler) loop() {
	defer s.wg.Done()

	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCh:
			return
		case now := <-ticker.C:
			s.tick(now)
		}
	}
}

// tick fires every due job once per minute. The 30s ticker plus the
// per-minute guard tolerates ticks landing anywhere inside the minute.
func (s *Scheduler) tick(now time.Time) {
	minute := now.Format("2006-01-02T15:04")
	for _, j := range s.jobs {
		due, err := s.cron.IsDue(j.expr, now)
		if err != nil || !due {
			continue
		}

		s.mu.Lock()
		fired := s.lastFire[j.name] == minute
		if !fired {
			s.lastFire[j.name] = minute
		}
		s.mu.Unlock()
		if fired {
			continue
		}

		s.runJob(j)
	}
}

func (s *Scheduler) runJob(j job) {
	ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
	defer cancel()

	userIDs, err := s.svc.Store().ListUserIDs(ctx)
	if err != nil {
		s.log.Error().Err(err).Str("job", j.name).Msg("job aborted, could not list users")
		return
	}

	for _, userID := range userIDs {
		if err := j.run(ctx, userID); err != nil {
			s.log.Warn().Err(err).Str("job", j.name).Str("user_id", userID).Msg("job failed for user")
		}
	}
	s.log.Info().Str("job", j.name).Int("users", len(userIDs)).Msg("job complete")
}
