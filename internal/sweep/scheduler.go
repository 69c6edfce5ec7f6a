package sweep

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/studio-ops/coordinator/internal/config"
	"github.com/studio-ops/coordinator/internal/metrics"
	"github.com/studio-ops/coordinator/internal/model"
)

// Directory enumerates the organisations and apps the sweep visits.
type Directory interface {
	Orgs(ctx context.Context) ([]string, error)
	Apps(ctx context.Context, org string) ([]string, error)
}

// Evaluator produces decommission candidates for one evaluation scope.
type Evaluator interface {
	AppsForDecommissioning(ctx context.Context, opts model.EvaluationOptions) ([]model.Candidate, error)
}

// Decommissioner hands candidates to the external decommission executor.
// The call is fire-and-forget with reporting: the scheduler records a
// failure but never retries, as retry and idempotence belong to the
// executor.
type Decommissioner interface {
	Decommission(ctx context.Context, candidates []model.Candidate) error
}

// RunReport summarises one sweep run. Counters cover every job the run
// dispatched, including jobs that were still running when an ancestor's
// deadline expired.
type RunReport struct {
	RunID        string
	Started      time.Time
	Finished     time.Time
	RootTimedOut bool

	OrgsEnumerated   int
	OrgJobsCompleted int
	OrgJobsTimedOut  int
	OrgJobsFailed    int

	AppJobsCompleted int
	AppJobsTimedOut  int
	AppJobsFailed    int

	Candidates           int
	DecommissionFailures int
}

// Scheduler drives the hierarchical inactivity sweep: a root job
// enumerates organisations, fans out one job per organisation, and each of
// those fans out one job per app. Every level is bounded by its own
// deadline derived from the scheduler's base context, never from the
// parent job's, so a timeout at one level is reported without cancelling
// siblings or already-dispatched children.
type Scheduler struct {
	cfg     config.SweepConfig
	dir     Directory
	eval    Evaluator
	decom   Decommissioner
	logger  *zap.Logger
	metrics *metrics.Metrics

	stopChan chan struct{}
	doneChan chan struct{}
	stopOnce sync.Once
}

// NewScheduler creates a sweep scheduler. The configuration is read once
// here and never consulted again.
func NewScheduler(cfg config.SweepConfig, dir Directory, eval Evaluator, decom Decommissioner, logger *zap.Logger, m *metrics.Metrics) *Scheduler {
	return &Scheduler{
		cfg:      cfg,
		dir:      dir,
		eval:     eval,
		decom:    decom,
		logger:   logger,
		metrics:  m,
		stopChan: make(chan struct{}),
		doneChan: make(chan struct{}),
	}
}

// Start begins periodic sweeping when the scheduler is enabled and
// self-hosted. It returns immediately; sweeping happens in the background
// until Stop is called.
func (s *Scheduler) Start() {
	if !s.cfg.Enabled || !s.cfg.SelfHost {
		s.logger.Info("Sweep scheduler not self-hosted, skipping start",
			zap.Bool("enabled", s.cfg.Enabled),
			zap.Bool("self_host", s.cfg.SelfHost),
		)
		close(s.doneChan)
		return
	}

	go s.run()
}

// Stop halts periodic sweeping and waits for an in-flight run to finish.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() {
		close(s.stopChan)
	})
	<-s.doneChan
}

func (s *Scheduler) run() {
	defer close(s.doneChan)

	s.logger.Info("Sweep scheduler started",
		zap.Duration("interval", s.cfg.Interval),
		zap.Duration("root_timeout", s.cfg.RootTimeout),
		zap.Duration("org_timeout", s.cfg.OrgTimeout),
		zap.Duration("app_timeout", s.cfg.AppTimeout),
	)

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.RunSweep(context.Background())
		case <-s.stopChan:
			s.logger.Info("Sweep scheduler stopped")
			return
		}
	}
}

// RunSweep executes one full sweep and blocks until every dispatched job
// has finished, then returns the run's report. It may be called directly
// by an external host when the scheduler is not self-hosted.
func (s *Scheduler) RunSweep(ctx context.Context) *RunReport {
	report := &RunReport{
		RunID:   uuid.NewString(),
		Started: time.Now(),
	}

	log := s.logger.With(zap.String("run_id", report.RunID))
	log.Info("Sweep run starting")

	var mu sync.Mutex
	var appJobs sync.WaitGroup
	var orgJobs sync.WaitGroup

	// The root deadline bounds enumeration and dispatch only, not the
	// waiting on children.
	rootCtx, cancel := context.WithTimeout(ctx, s.cfg.RootTimeout)

	orgs, err := s.dir.Orgs(rootCtx)
	if err != nil {
		cancel()
		if errors.Is(err, context.DeadlineExceeded) {
			report.RootTimedOut = true
			s.record("root", "timeout", time.Since(report.Started))
			log.Warn("Root job timed out during enumeration")
		} else {
			s.record("root", "failure", time.Since(report.Started))
			log.Error("Root job failed to enumerate organisations", zap.Error(err))
		}
		report.Finished = time.Now()
		return report
	}
	report.OrgsEnumerated = len(orgs)

	dispatched := 0
	for _, org := range orgs {
		if rootCtx.Err() != nil {
			report.RootTimedOut = true
			log.Warn("Root job deadline expired mid-dispatch",
				zap.Int("dispatched", dispatched),
				zap.Int("total", len(orgs)),
			)
			break
		}

		orgJobs.Add(1)
		dispatched++
		go func(org string) {
			defer orgJobs.Done()
			s.runOrgJob(ctx, org, log, report, &mu, &appJobs)
		}(org)
	}
	cancel()

	if report.RootTimedOut {
		s.record("root", "timeout", time.Since(report.Started))
	} else {
		s.record("root", "success", time.Since(report.Started))
	}

	orgJobs.Wait()
	appJobs.Wait()

	report.Finished = time.Now()

	log.Info("Sweep run finished",
		zap.Duration("duration", report.Finished.Sub(report.Started)),
		zap.Int("orgs", report.OrgsEnumerated),
		zap.Int("org_jobs_completed", report.OrgJobsCompleted),
		zap.Int("org_jobs_timed_out", report.OrgJobsTimedOut),
		zap.Int("app_jobs_completed", report.AppJobsCompleted),
		zap.Int("app_jobs_timed_out", report.AppJobsTimedOut),
		zap.Int("app_jobs_failed", report.AppJobsFailed),
		zap.Int("candidates", report.Candidates),
		zap.Int("decommission_failures", report.DecommissionFailures),
	)

	return report
}

// runOrgJob enumerates one organisation's apps and dispatches a job per
// app. Its deadline derives from the scheduler's base context, so an
// expired root deadline has no effect here; likewise an expired org
// deadline stops the waiting, not the dispatched app jobs.
func (s *Scheduler) runOrgJob(baseCtx context.Context, org string, log *zap.Logger, report *RunReport, mu *sync.Mutex, appJobs *sync.WaitGroup) {
	start := time.Now()

	orgCtx, cancel := context.WithTimeout(baseCtx, s.cfg.OrgTimeout)
	defer cancel()

	apps, err := s.dir.Apps(orgCtx, org)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			mu.Lock()
			report.OrgJobsTimedOut++
			mu.Unlock()
			s.record("org", "timeout", time.Since(start))
			log.Warn("Org job timed out during app enumeration", zap.String("org", org))
		} else {
			mu.Lock()
			report.OrgJobsFailed++
			mu.Unlock()
			s.record("org", "failure", time.Since(start))
			log.Error("Org job failed to enumerate apps", zap.String("org", org), zap.Error(err))
		}
		return
	}

	done := make(chan struct{})
	var localJobs sync.WaitGroup

	for _, app := range apps {
		if orgCtx.Err() != nil {
			break
		}

		appJobs.Add(1)
		localJobs.Add(1)
		go func(app string) {
			defer appJobs.Done()
			defer localJobs.Done()
			s.runAppJob(baseCtx, org, app, log, report, mu)
		}(app)
	}

	go func() {
		localJobs.Wait()
		close(done)
	}()

	select {
	case <-done:
		mu.Lock()
		report.OrgJobsCompleted++
		mu.Unlock()
		s.record("org", "success", time.Since(start))
	case <-orgCtx.Done():
		// Stop waiting; the dispatched app jobs keep running on their
		// own deadlines and are still awaited by the run.
		mu.Lock()
		report.OrgJobsTimedOut++
		mu.Unlock()
		s.record("org", "timeout", time.Since(start))
		log.Warn("Org job deadline expired while waiting for app jobs",
			zap.String("org", org),
			zap.Int("apps", len(apps)),
		)
	}
}

// runAppJob evaluates one (org, app) pair and hands any candidates to the
// decommission executor.
func (s *Scheduler) runAppJob(baseCtx context.Context, org, app string, log *zap.Logger, report *RunReport, mu *sync.Mutex) {
	start := time.Now()

	appCtx, cancel := context.WithTimeout(baseCtx, s.cfg.AppTimeout)
	defer cancel()

	candidates, err := s.eval.AppsForDecommissioning(appCtx, model.EvaluationOptions{
		Org:        org,
		App:        app,
		WindowDays: s.cfg.WindowDays,
	})
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			mu.Lock()
			report.AppJobsTimedOut++
			mu.Unlock()
			s.record("app", "timeout", time.Since(start))
			log.Warn("App job timed out",
				zap.String("org", org),
				zap.String("app", app),
			)
		} else {
			mu.Lock()
			report.AppJobsFailed++
			mu.Unlock()
			s.record("app", "failure", time.Since(start))
			log.Error("App job failed",
				zap.String("org", org),
				zap.String("app", app),
				zap.Error(err),
			)
		}
		return
	}

	mu.Lock()
	report.AppJobsCompleted++
	report.Candidates += len(candidates)
	mu.Unlock()
	s.record("app", "success", time.Since(start))

	if s.metrics != nil && s.metrics.SweepCandidatesTotal != nil {
		s.metrics.SweepCandidatesTotal.Add(float64(len(candidates)))
	}

	if len(candidates) == 0 {
		return
	}

	log.Info("Decommission candidates found",
		zap.String("org", org),
		zap.String("app", app),
		zap.Int("count", len(candidates)),
	)

	if err := s.decom.Decommission(appCtx, candidates); err != nil {
		mu.Lock()
		report.DecommissionFailures++
		mu.Unlock()
		log.Error("Failed to hand candidates to decommission executor",
			zap.String("org", org),
			zap.String("app", app),
			zap.Error(err),
		)
	}
}

func (s *Scheduler) record(level, status string, duration time.Duration) {
	if s.metrics == nil {
		return
	}
	if s.metrics.SweepJobsTotal != nil {
		s.metrics.SweepJobsTotal.WithLabelValues(level, status).Inc()
	}
	if s.metrics.SweepJobDurationSeconds != nil {
		s.metrics.SweepJobDurationSeconds.WithLabelValues(level).Observe(duration.Seconds())
	}
}
