package sweep

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/studio-ops/coordinator/internal/config"
	"github.com/studio-ops/coordinator/internal/model"
)

// stubDirectory serves a fixed org/app layout.
type stubDirectory struct {
	orgs    []string
	apps    map[string][]string
	orgsErr error
}

func (d *stubDirectory) Orgs(ctx context.Context) ([]string, error) {
	if d.orgsErr != nil {
		return nil, d.orgsErr
	}
	return d.orgs, nil
}

func (d *stubDirectory) Apps(ctx context.Context, org string) ([]string, error) {
	return d.apps[org], nil
}

// stubEvaluator returns fixed candidates per app, optionally stalling on
// named apps until its block channel closes or the job context expires.
type stubEvaluator struct {
	mu         sync.Mutex
	candidates map[string][]model.Candidate
	slowApps   map[string]bool
	block      chan struct{}
	evaluated  []string
}

func (e *stubEvaluator) AppsForDecommissioning(ctx context.Context, opts model.EvaluationOptions) ([]model.Candidate, error) {
	e.mu.Lock()
	e.evaluated = append(e.evaluated, opts.Org+"/"+opts.App)
	slow := e.slowApps[opts.App]
	e.mu.Unlock()

	if slow {
		select {
		case <-e.block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	return e.candidates[opts.App], nil
}

func (e *stubEvaluator) evaluatedApps() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.evaluated...)
}

// stubDecommissioner records submitted candidates.
type stubDecommissioner struct {
	mu      sync.Mutex
	batches [][]model.Candidate
	err     error
}

func (d *stubDecommissioner) Decommission(_ context.Context, candidates []model.Candidate) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.batches = append(d.batches, candidates)
	return d.err
}

func (d *stubDecommissioner) submitted() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	total := 0
	for _, b := range d.batches {
		total += len(b)
	}
	return total
}

func testSweepConfig() config.SweepConfig {
	return config.SweepConfig{
		Enabled:     true,
		SelfHost:    false,
		RootTimeout: 2 * time.Second,
		OrgTimeout:  2 * time.Second,
		AppTimeout:  2 * time.Second,
		WindowDays:  7,
	}
}

func TestRunSweepVisitsEveryApp(t *testing.T) {
	dir := &stubDirectory{
		orgs: []string{"acme", "ttd"},
		apps: map[string][]string{
			"acme": {"billing"},
			"ttd":  {"shop", "crm"},
		},
	}
	eval := &stubEvaluator{
		candidates: map[string][]model.Candidate{
			"shop": {{Org: "ttd", App: "shop"}},
		},
	}
	decom := &stubDecommissioner{}

	scheduler := NewScheduler(testSweepConfig(), dir, eval, decom, zap.NewNop(), nil)
	report := scheduler.RunSweep(context.Background())

	if report.OrgsEnumerated != 2 {
		t.Errorf("OrgsEnumerated = %d, want 2", report.OrgsEnumerated)
	}
	if report.OrgJobsCompleted != 2 {
		t.Errorf("OrgJobsCompleted = %d, want 2", report.OrgJobsCompleted)
	}
	if report.AppJobsCompleted != 3 {
		t.Errorf("AppJobsCompleted = %d, want 3", report.AppJobsCompleted)
	}
	if report.Candidates != 1 {
		t.Errorf("Candidates = %d, want 1", report.Candidates)
	}
	if got := len(eval.evaluatedApps()); got != 3 {
		t.Errorf("Evaluated %d apps, want 3", got)
	}
	if decom.submitted() != 1 {
		t.Errorf("Submitted %d candidates, want 1", decom.submitted())
	}
}

func TestRunSweepSlowAppDoesNotBlockSiblings(t *testing.T) {
	dir := &stubDirectory{
		orgs: []string{"ttd"},
		apps: map[string][]string{
			"ttd": {"crm", "shop"},
		},
	}
	eval := &stubEvaluator{
		slowApps: map[string]bool{"crm": true},
		block:    make(chan struct{}),
		candidates: map[string][]model.Candidate{
			"shop": {{Org: "ttd", App: "shop"}},
		},
	}
	decom := &stubDecommissioner{}

	cfg := testSweepConfig()
	cfg.AppTimeout = 100 * time.Millisecond

	scheduler := NewScheduler(cfg, dir, eval, decom, zap.NewNop(), nil)
	report := scheduler.RunSweep(context.Background())

	// crm stalled past its deadline, but shop still completed and its
	// candidate was submitted.
	if report.AppJobsTimedOut != 1 {
		t.Errorf("AppJobsTimedOut = %d, want 1", report.AppJobsTimedOut)
	}
	if report.AppJobsCompleted != 1 {
		t.Errorf("AppJobsCompleted = %d, want 1", report.AppJobsCompleted)
	}
	if report.Candidates != 1 {
		t.Errorf("Candidates = %d, want 1", report.Candidates)
	}
}

func TestRunSweepOrgTimeoutDoesNotCancelAppJobs(t *testing.T) {
	dir := &stubDirectory{
		orgs: []string{"ttd"},
		apps: map[string][]string{
			"ttd": {"crm"},
		},
	}
	eval := &stubEvaluator{
		slowApps: map[string]bool{"crm": true},
		block:    make(chan struct{}),
		candidates: map[string][]model.Candidate{
			"crm": {{Org: "ttd", App: "crm"}},
		},
	}
	decom := &stubDecommissioner{}

	cfg := testSweepConfig()
	cfg.OrgTimeout = 50 * time.Millisecond
	cfg.AppTimeout = 2 * time.Second

	scheduler := NewScheduler(cfg, dir, eval, decom, zap.NewNop(), nil)

	// Unblock the app job after the org deadline has expired; the app job
	// runs on its own deadline and must still complete and be awaited.
	go func() {
		time.Sleep(200 * time.Millisecond)
		close(eval.block)
	}()

	report := scheduler.RunSweep(context.Background())

	if report.OrgJobsTimedOut != 1 {
		t.Errorf("OrgJobsTimedOut = %d, want 1", report.OrgJobsTimedOut)
	}
	if report.AppJobsCompleted != 1 {
		t.Errorf("AppJobsCompleted = %d, want 1 (org timeout must not cancel app jobs)", report.AppJobsCompleted)
	}
	if report.Candidates != 1 {
		t.Errorf("Candidates = %d, want 1", report.Candidates)
	}
}

func TestRunSweepRootEnumerationFailure(t *testing.T) {
	dir := &stubDirectory{orgsErr: errors.New("database gone")}
	scheduler := NewScheduler(testSweepConfig(), dir, &stubEvaluator{}, &stubDecommissioner{}, zap.NewNop(), nil)

	report := scheduler.RunSweep(context.Background())

	if report.OrgsEnumerated != 0 {
		t.Errorf("OrgsEnumerated = %d, want 0", report.OrgsEnumerated)
	}
	if report.RootTimedOut {
		t.Error("RootTimedOut = true for a plain failure")
	}
}

func TestRunSweepDecommissionFailureIsReported(t *testing.T) {
	dir := &stubDirectory{
		orgs: []string{"ttd"},
		apps: map[string][]string{"ttd": {"shop"}},
	}
	eval := &stubEvaluator{
		candidates: map[string][]model.Candidate{
			"shop": {{Org: "ttd", App: "shop"}},
		},
	}
	decom := &stubDecommissioner{err: errors.New("executor down")}

	scheduler := NewScheduler(testSweepConfig(), dir, eval, decom, zap.NewNop(), nil)
	report := scheduler.RunSweep(context.Background())

	// The failure is recorded, never retried
	if report.DecommissionFailures != 1 {
		t.Errorf("DecommissionFailures = %d, want 1", report.DecommissionFailures)
	}
	if len(decom.batches) != 1 {
		t.Errorf("Decommission called %d times, want 1 (no retry)", len(decom.batches))
	}
}

func TestSchedulerStartStopNotSelfHosted(t *testing.T) {
	cfg := testSweepConfig()
	cfg.SelfHost = false

	scheduler := NewScheduler(cfg, &stubDirectory{}, &stubEvaluator{}, &stubDecommissioner{}, zap.NewNop(), nil)

	scheduler.Start()
	// Must not hang: Start closed the done channel immediately
	scheduler.Stop()
}

func TestSchedulerPeriodicRuns(t *testing.T) {
	dir := &stubDirectory{
		orgs: []string{"ttd"},
		apps: map[string][]string{"ttd": {"shop"}},
	}
	eval := &stubEvaluator{}

	cfg := testSweepConfig()
	cfg.SelfHost = true
	cfg.Interval = 30 * time.Millisecond

	scheduler := NewScheduler(cfg, dir, eval, &stubDecommissioner{}, zap.NewNop(), nil)
	scheduler.Start()

	time.Sleep(100 * time.Millisecond)
	scheduler.Stop()

	if got := len(eval.evaluatedApps()); got < 2 {
		t.Errorf("Evaluated %d times, want at least 2 periodic runs", got)
	}
}
