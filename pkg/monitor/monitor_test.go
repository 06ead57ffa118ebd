package monitor

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/supporttools/hass-watchdog/pkg/types"
)

var errProbe = errors.New("connection refused")

// scriptedProber returns the queued results in order, then succeeds.
type scriptedProber struct {
	mu      sync.Mutex
	results []error
	calls   int
}

func (p *scriptedProber) Probe(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	if len(p.results) == 0 {
		return nil
	}
	err := p.results[0]
	p.results = p.results[1:]
	return err
}

func (p *scriptedProber) queue(results ...error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.results = append(p.results, results...)
}

// recordingObserver captures observer calls.
type recordingObserver struct {
	checks      int
	transitions [][2]types.HealthState
	lastErr     error
}

func (o *recordingObserver) ObserveCheck(state types.HealthState, failures int, probeErr error, d time.Duration) {
	o.checks++
	o.lastErr = probeErr
}

func (o *recordingObserver) ObserveTransition(from, to types.HealthState) {
	o.transitions = append(o.transitions, [2]types.HealthState{from, to})
}

func failures(n int) []error {
	out := make([]error, n)
	for i := range out {
		out[i] = errProbe
	}
	return out
}

func newMonitor(t *testing.T, threshold int, opts ...Option) (*HealthMonitor, *scriptedProber) {
	t.Helper()
	p := &scriptedProber{}
	m, err := New(p, threshold, opts...)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return m, p
}

func TestNew(t *testing.T) {
	if _, err := New(nil, 3); err == nil {
		t.Error("New(nil) should fail")
	}
	if _, err := New(&scriptedProber{}, -1); err == nil {
		t.Error("New() with negative threshold should fail")
	}

	m, _ := newMonitor(t, 3)
	if !m.IsAlive() {
		t.Error("monitor should start alive")
	}
	if m.Failures() != 0 {
		t.Errorf("Failures() = %d, want 0", m.Failures())
	}
	if m.Threshold() != 3 {
		t.Errorf("Threshold() = %d, want 3", m.Threshold())
	}
}

// TestCheck_ThresholdCrossing walks four consecutive failures with a
// threshold of three: the first three are tolerated, the fourth flips.
func TestCheck_ThresholdCrossing(t *testing.T) {
	m, p := newMonitor(t, 3)
	p.queue(failures(4)...)

	want := []types.HealthState{
		types.StateAlive,
		types.StateAlive,
		types.StateAlive,
		types.StateDown,
	}
	for i, w := range want {
		got := m.Check(context.Background())
		if got != w {
			t.Fatalf("check %d: state = %s, want %s", i+1, got, w)
		}
		if m.Failures() != i+1 {
			t.Fatalf("check %d: Failures() = %d, want %d", i+1, m.Failures(), i+1)
		}
	}
	if m.IsAlive() {
		t.Error("IsAlive() should be false after crossing the threshold")
	}
}

func TestCheck_FlipsOncePerEpisode(t *testing.T) {
	obs := &recordingObserver{}
	m, p := newMonitor(t, 2, WithObserver(obs))

	// Two failure episodes separated by a success.
	p.queue(failures(8)...)
	p.queue(nil)
	p.queue(failures(5)...)

	for i := 0; i < 14; i++ {
		m.Check(context.Background())
	}

	wantTransitions := [][2]types.HealthState{
		{types.StateAlive, types.StateDown},
		{types.StateDown, types.StateAlive},
		{types.StateAlive, types.StateDown},
	}
	if len(obs.transitions) != len(wantTransitions) {
		t.Fatalf("transitions = %v, want %v", obs.transitions, wantTransitions)
	}
	for i := range wantTransitions {
		if obs.transitions[i] != wantTransitions[i] {
			t.Errorf("transition %d = %v, want %v", i, obs.transitions[i], wantTransitions[i])
		}
	}
	if obs.checks != 14 {
		t.Errorf("observer saw %d checks, want 14", obs.checks)
	}
	if !errors.Is(obs.lastErr, errProbe) {
		t.Errorf("observer lastErr = %v, want probe error", obs.lastErr)
	}
}

// TestCheck_CounterTracksConsecutiveFailures checks the counter against a
// reference computed from the outcome sequence.
func TestCheck_CounterTracksConsecutiveFailures(t *testing.T) {
	sequences := []struct {
		name     string
		outcomes []bool // true = probe succeeds
	}{
		{"all success", []bool{true, true, true}},
		{"all failure", []bool{false, false, false, false, false}},
		{"alternating", []bool{false, true, false, true, false}},
		{"burst then recover", []bool{false, false, false, false, false, true, false, false}},
		{"recover at threshold", []bool{false, false, false, true, true}},
	}

	for _, seq := range sequences {
		t.Run(seq.name, func(t *testing.T) {
			m, p := newMonitor(t, 3)

			consecutive, total := 0, 0
			for i, ok := range seq.outcomes {
				if ok {
					p.queue(nil)
					consecutive = 0
				} else {
					p.queue(errProbe)
					consecutive++
					total++
				}

				state := m.Check(context.Background())

				if m.Failures() != consecutive {
					t.Fatalf("step %d: Failures() = %d, want %d", i, m.Failures(), consecutive)
				}
				if int64(m.Failures()) > m.Statistics().GetAccumulativeFailures() {
					t.Fatalf("step %d: counter exceeds total failures", i)
				}
				if ok && state != types.StateAlive {
					t.Fatalf("step %d: success must return alive, got %s", i, state)
				}
			}

			stats := m.Stats()
			if stats.AccumulativeFailures != int64(total) {
				t.Errorf("AccumulativeFailures = %d, want %d", stats.AccumulativeFailures, total)
			}
			if stats.PingCount != int64(len(seq.outcomes)) {
				t.Errorf("PingCount = %d, want %d", stats.PingCount, len(seq.outcomes))
			}
		})
	}
}

func TestCheck_PingCountPerInvocation(t *testing.T) {
	m, p := newMonitor(t, 1)
	p.queue(errProbe, nil, errProbe, errProbe, errProbe)

	for i := 1; i <= 6; i++ {
		m.Check(context.Background())
		if got := m.Statistics().GetPingCount(); got != int64(i) {
			t.Fatalf("after %d checks PingCount = %d", i, got)
		}
	}
	if p.calls != 6 {
		t.Errorf("prober called %d times, want 6", p.calls)
	}
}

func TestCheck_LastFailureTime(t *testing.T) {
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	m, p := newMonitor(t, 3, WithClock(func() time.Time { return now }))

	m.Check(context.Background())
	if m.Stats().LastFailureTime != nil {
		t.Error("LastFailureTime should be nil before any failure")
	}

	p.queue(errProbe)
	now = now.Add(time.Minute)
	m.Check(context.Background())

	stats := m.Stats()
	if stats.LastFailureTime == nil || !stats.LastFailureTime.Equal(now) {
		t.Errorf("LastFailureTime = %v, want %v", stats.LastFailureTime, now)
	}
	if !stats.StartTime.Equal(now.Add(-time.Minute)) {
		t.Errorf("StartTime = %v, should be the construction time", stats.StartTime)
	}
}

func TestCheck_ZeroThreshold(t *testing.T) {
	m, p := newMonitor(t, 0)
	p.queue(errProbe)

	if got := m.Check(context.Background()); got != types.StateDown {
		t.Errorf("first failure with threshold 0: state = %s, want down", got)
	}
}

func TestSetMaxFailedResponses(t *testing.T) {
	m, p := newMonitor(t, 5)
	p.queue(failures(3)...)

	for i := 0; i < 2; i++ {
		m.Check(context.Background())
	}
	if err := m.SetMaxFailedResponses(-1); err == nil {
		t.Error("negative threshold should be rejected")
	}
	if err := m.SetMaxFailedResponses(2); err != nil {
		t.Fatalf("SetMaxFailedResponses() error = %v", err)
	}
	if !m.IsAlive() {
		t.Error("changing the threshold must not change the state")
	}

	if got := m.Check(context.Background()); got != types.StateDown {
		t.Errorf("third failure with threshold 2: state = %s, want down", got)
	}
}

func TestStats_IncludesStateAndFailures(t *testing.T) {
	m, p := newMonitor(t, 0)
	p.queue(errProbe)
	m.Check(context.Background())

	stats := m.Stats()
	if stats.State != types.StateDown {
		t.Errorf("State = %s, want down", stats.State)
	}
	if stats.Failures != 1 {
		t.Errorf("Failures = %d, want 1", stats.Failures)
	}
}

type recordingLogger struct {
	mu    sync.Mutex
	warns []string
}

func (l *recordingLogger) Infof(format string, args ...interface{}) {}

func (l *recordingLogger) Warnf(format string, args ...interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.warns = append(l.warns, format)
}

func TestCheck_LogsTransitions(t *testing.T) {
	log := &recordingLogger{}
	m, p := newMonitor(t, 0, WithLogger(log))
	p.queue(errProbe, errProbe)

	m.Check(context.Background())
	m.Check(context.Background())
	m.Check(context.Background())

	if len(log.warns) != 2 {
		t.Errorf("logged %d transitions, want 2 (down, then alive)", len(log.warns))
	}
}

func TestCheck_CancelledProbeLeavesStateUntouched(t *testing.T) {
	obs := &recordingObserver{}
	m, p := newMonitor(t, 0, WithObserver(obs))
	p.queue(context.Canceled)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if got := m.Check(ctx); got != types.StateAlive {
		t.Errorf("state = %s, want alive", got)
	}
	stats := m.Stats()
	if stats.Failures != 0 || stats.AccumulativeFailures != 0 || stats.PingCount != 0 {
		t.Errorf("interrupted probe changed statistics: %+v", stats)
	}
	if stats.LastFailureTime != nil {
		t.Errorf("last failure time set to %v", *stats.LastFailureTime)
	}
	if obs.checks != 0 {
		t.Errorf("observer saw %d checks, want 0", obs.checks)
	}
}

func TestCheck_CancelledContextKeepsSuccess(t *testing.T) {
	m, p := newMonitor(t, 0)
	p.queue(errProbe)
	m.Check(context.Background())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	// The prober answered before noticing the cancellation.
	if got := m.Check(ctx); got != types.StateAlive {
		t.Errorf("state = %s, want alive after a successful probe", got)
	}
	if m.Failures() != 0 {
		t.Errorf("failures = %d, want 0", m.Failures())
	}
}

// blockingProber holds every probe until release is closed.
type blockingProber struct {
	started chan struct{}
	release chan struct{}
}

func (p *blockingProber) Probe(ctx context.Context) error {
	close(p.started)
	<-p.release
	return nil
}

func TestStats_NotBlockedByProbe(t *testing.T) {
	p := &blockingProber{started: make(chan struct{}), release: make(chan struct{})}
	m, err := New(p, 3)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		m.Check(context.Background())
	}()
	<-p.started

	got := make(chan types.StatisticsSnapshot, 1)
	go func() { got <- m.Stats() }()

	select {
	case stats := <-got:
		if stats.PingCount != 0 {
			t.Errorf("ping count = %d before the probe finished", stats.PingCount)
		}
	case <-time.After(time.Second):
		t.Fatal("Stats() blocked while a probe was in flight")
	}

	close(p.release)
	<-done
	if m.Stats().PingCount != 1 {
		t.Errorf("ping count = %d, want 1", m.Stats().PingCount)
	}
}
