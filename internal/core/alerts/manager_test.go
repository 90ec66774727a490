package alerts

import (
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type topicRecorder struct {
	mu     sync.Mutex
	topics []string
}

func (r *topicRecorder) Publish(topic string, _ interface{}) {
	r.mu.Lock()
	r.topics = append(r.topics, topic)
	r.mu.Unlock()
}

func (r *topicRecorder) Topics() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.topics...)
}

func newTestManager(opts Options) (*Manager, *fakeClock, *topicRecorder) {
	logger, _ := test.NewNullLogger()
	pub := &topicRecorder{}
	clock := newFakeClock()
	m := NewManager(opts, pub, logger)
	m.SetClock(clock.Now)
	return m, clock, pub
}

func cpuCandidate() Candidate {
	return Candidate{
		Severity:   SeverityWarning,
		Type:       TypeThreshold,
		Title:      "cpu_usage above warning",
		Source:     Source{Component: "threshold_monitor", EntityType: "metric", EntityID: "cpu_usage"},
		Context:    Context{CurrentValue: Float(75), Threshold: Float(70), Trend: "increasing"},
		Actionable: true,
	}
}

func TestManager_RaiseDeduplicatesWithinWindow(t *testing.T) {
	m, clock, pub := newTestManager(DefaultOptions())
	defer m.Close()

	first, created := m.Raise(cpuCandidate())
	require.True(t, created)

	last := first.UpdatedAt
	for i := 0; i < 5; i++ {
		clock.Advance(30 * time.Second)
		dup, created := m.Raise(cpuCandidate())
		assert.False(t, created)
		assert.Equal(t, first.ID, dup.ID)
		assert.True(t, dup.UpdatedAt.After(last))
		last = dup.UpdatedAt
	}

	assert.Equal(t, 1, m.OpenCount())
	got, _ := m.Get(first.ID)
	assert.Equal(t, 6, got.Occurrences)
	assert.Equal(t, "alert:created", pub.Topics()[0])
	assert.Equal(t, "alert:updated", pub.Topics()[1])
}

func TestManager_UpdatedAtStrictlyIncreasesWithFrozenClock(t *testing.T) {
	m, _, _ := newTestManager(DefaultOptions())
	defer m.Close()

	a, _ := m.Raise(cpuCandidate())
	b, _ := m.Raise(cpuCandidate())
	c, _ := m.Raise(cpuCandidate())

	assert.True(t, b.UpdatedAt.After(a.UpdatedAt))
	assert.True(t, c.UpdatedAt.After(b.UpdatedAt))
}

func TestManager_RaiseOutsideWindowSupersedesOpenAlert(t *testing.T) {
	m, clock, pub := newTestManager(DefaultOptions())
	defer m.Close()

	first, _ := m.Raise(cpuCandidate())
	clock.Advance(6 * time.Minute)
	second, created := m.Raise(cpuCandidate())

	assert.True(t, created)
	assert.NotEqual(t, first.ID, second.ID)

	old, ok := m.Get(first.ID)
	require.True(t, ok)
	assert.True(t, old.Resolution.Resolved)
	assert.True(t, old.Resolution.Automatic)
	assert.Equal(t, "Superseded by "+second.ID, old.Resolution.Text)
	assert.Contains(t, pub.Topics(), "alert:resolved")

	open := 0
	for _, a := range m.List() {
		if a.IsOpen() {
			open++
		}
	}
	assert.Equal(t, 1, open)
}

func TestManager_ResolveOpenForAfterLongBreach(t *testing.T) {
	m, clock, _ := newTestManager(DefaultOptions())
	defer m.Close()

	for i := 0; i < 4; i++ {
		m.Raise(cpuCandidate())
		clock.Advance(6 * time.Minute)
	}

	assert.True(t, m.ResolveOpenFor("cpu_usage", TypeThreshold, "system", "back in range"))
	for _, a := range m.List() {
		assert.False(t, a.IsOpen(), "alert %s left open", a.ID)
	}
}

func TestManager_DifferentTypeIsNotDuplicate(t *testing.T) {
	m, _, _ := newTestManager(DefaultOptions())
	defer m.Close()

	m.Raise(cpuCandidate())
	c := cpuCandidate()
	c.Type = TypeAnomaly
	_, created := m.Raise(c)

	assert.True(t, created)
	assert.Equal(t, 2, m.OpenCount())
}

func TestManager_RaiseAfterResolveCreatesNew(t *testing.T) {
	m, _, _ := newTestManager(DefaultOptions())
	defer m.Close()

	first, _ := m.Raise(cpuCandidate())
	require.True(t, m.Resolve(first.ID, "u1", "fixed"))

	second, created := m.Raise(cpuCandidate())
	assert.True(t, created)
	assert.NotEqual(t, first.ID, second.ID)
}

func TestManager_AcknowledgeIsIdempotent(t *testing.T) {
	m, _, pub := newTestManager(DefaultOptions())
	defer m.Close()

	a, _ := m.Raise(cpuCandidate())

	assert.True(t, m.Acknowledge(a.ID, "alice", "looking"))
	before, _ := m.Get(a.ID)

	assert.False(t, m.Acknowledge(a.ID, "bob", "me too"))
	after, _ := m.Get(a.ID)

	assert.Equal(t, before, after)
	assert.Equal(t, "alice", after.Acknowledgement.By)
	assert.Equal(t, StatusAcknowledged, after.Status())
	assert.False(t, m.Acknowledge("missing", "alice", ""))
	assert.Contains(t, pub.Topics(), "alert:acknowledged")
}

func TestManager_ResolveIsIdempotent(t *testing.T) {
	m, _, _ := newTestManager(DefaultOptions())
	defer m.Close()

	a, _ := m.Raise(cpuCandidate())

	assert.True(t, m.Resolve(a.ID, "alice", "restarted"))
	before, _ := m.Get(a.ID)

	assert.False(t, m.Resolve(a.ID, "bob", "again"))
	after, _ := m.Get(a.ID)

	assert.Equal(t, before, after)
	assert.False(t, m.Acknowledge(a.ID, "bob", ""))
	assert.Equal(t, 0, m.OpenCount())
}

func TestManager_AutoResolveRespectsInterimState(t *testing.T) {
	m, _, _ := newTestManager(DefaultOptions())
	defer m.Close()

	acked, _ := m.Raise(cpuCandidate())
	m.Acknowledge(acked.ID, "alice", "")
	assert.False(t, m.AutoResolve(acked.ID))

	c := cpuCandidate()
	c.Source.EntityID = "memory_usage"
	resolved, _ := m.Raise(c)
	m.Resolve(resolved.ID, "alice", "done")
	assert.False(t, m.AutoResolve(resolved.ID))

	c.Source.EntityID = "disk_usage"
	fresh, _ := m.Raise(c)
	assert.True(t, m.AutoResolve(fresh.ID))

	got, _ := m.Get(fresh.ID)
	assert.True(t, got.Resolution.Automatic)
	assert.Equal(t, "system", got.Resolution.By)
}

func TestManager_AutoResolveConsultsCheck(t *testing.T) {
	m, _, _ := newTestManager(DefaultOptions())
	defer m.Close()

	m.SetResolutionCheck(func(Alert) bool { return false })
	a, _ := m.Raise(cpuCandidate())

	assert.False(t, m.AutoResolve(a.ID))
	assert.True(t, m.Resolve(a.ID, "alice", "manual still works"))
}

func TestManager_SchedulesAutoResolution(t *testing.T) {
	opts := DefaultOptions()
	opts.AutoResolveDelay = 10 * time.Millisecond
	m, _, _ := newTestManager(opts)
	defer m.Close()

	low := cpuCandidate()
	low.AutoResolution = AutoResolution{Possible: true, Confidence: 0.8}
	lowAlert, _ := m.Raise(low)

	high := cpuCandidate()
	high.Source.EntityID = "memory_usage"
	high.AutoResolution = AutoResolution{Possible: true, Confidence: 0.9}
	highAlert, _ := m.Raise(high)

	require.Eventually(t, func() bool {
		a, _ := m.Get(highAlert.ID)
		return a.Resolution.Resolved
	}, time.Second, 5*time.Millisecond)

	a, _ := m.Get(lowAlert.ID)
	assert.False(t, a.Resolution.Resolved)
}

func TestManager_AcknowledgeCancelsAutoResolution(t *testing.T) {
	opts := DefaultOptions()
	opts.AutoResolveDelay = time.Hour
	m, _, _ := newTestManager(opts)
	defer m.Close()

	c := cpuCandidate()
	c.AutoResolution = AutoResolution{Possible: true, Confidence: 0.95}
	a, _ := m.Raise(c)
	assert.Equal(t, 1, m.PendingAutoResolutions())

	m.Acknowledge(a.ID, "alice", "")
	assert.Equal(t, 0, m.PendingAutoResolutions())
}

func TestManager_SweepExpired(t *testing.T) {
	m, clock, pub := newTestManager(DefaultOptions())
	defer m.Close()

	c := cpuCandidate()
	c.TTL = time.Minute
	a, _ := m.Raise(c)

	assert.Empty(t, m.SweepExpired())

	clock.Advance(2 * time.Minute)
	expired := m.SweepExpired()
	require.Len(t, expired, 1)
	assert.Equal(t, a.ID, expired[0].ID)
	assert.Equal(t, StatusExpired, expired[0].Status())
	assert.Equal(t, 0, m.OpenCount())
	assert.False(t, m.Resolve(a.ID, "alice", "too late"))
	assert.Contains(t, pub.Topics(), "alert:expired")

	assert.Empty(t, m.SweepExpired())
}

func TestManager_CleanupDropsOldTerminalAlerts(t *testing.T) {
	opts := DefaultOptions()
	opts.Retention = time.Hour
	m, clock, _ := newTestManager(opts)
	defer m.Close()

	done, _ := m.Raise(cpuCandidate())
	m.Resolve(done.ID, "alice", "")

	c := cpuCandidate()
	c.Source.EntityID = "memory_usage"
	stillOpen, _ := m.Raise(c)

	clock.Advance(2 * time.Hour)
	assert.Equal(t, 1, m.Cleanup())

	_, ok := m.Get(done.ID)
	assert.False(t, ok)
	_, ok = m.Get(stillOpen.ID)
	assert.True(t, ok)
}

func TestManager_ListNewestFirstAndDrain(t *testing.T) {
	m, clock, _ := newTestManager(DefaultOptions())
	defer m.Close()

	ids := []string{"a", "b", "c"}
	for _, id := range ids {
		c := cpuCandidate()
		c.Source.EntityID = id
		m.Raise(c)
		clock.Advance(time.Second)
	}

	list := m.List()
	require.Len(t, list, 3)
	assert.Equal(t, "c", list[0].Source.EntityID)
	assert.Equal(t, "a", list[2].Source.EntityID)

	drained := m.DrainPending()
	require.Len(t, drained, 3)
	assert.Equal(t, "a", drained[0].Source.EntityID)
	assert.Empty(t, m.DrainPending())
}

func TestManager_ContextIsNotSharedWithCaller(t *testing.T) {
	m, _, _ := newTestManager(DefaultOptions())
	defer m.Close()

	c := cpuCandidate()
	c.Context.RelatedEntities = []string{"host-1"}
	a, _ := m.Raise(c)

	c.Context.RelatedEntities[0] = "mutated"
	*c.Context.CurrentValue = 0

	got, _ := m.Get(a.ID)
	assert.Equal(t, "host-1", got.Context.RelatedEntities[0])
	assert.Equal(t, 75.0, *got.Context.CurrentValue)
}

func TestManager_ResolveOpenFor(t *testing.T) {
	m, _, _ := newTestManager(DefaultOptions())
	defer m.Close()

	a, _ := m.Raise(cpuCandidate())
	assert.True(t, m.ResolveOpenFor("cpu_usage", TypeThreshold, "system", "back to normal"))
	assert.False(t, m.ResolveOpenFor("cpu_usage", TypeThreshold, "system", "again"))

	got, _ := m.Get(a.ID)
	assert.Equal(t, StatusResolved, got.Status())
}

func TestSeverityFromLevel(t *testing.T) {
	assert.Equal(t, SeverityInfo, SeverityFromLevel("low"))
	assert.Equal(t, SeverityWarning, SeverityFromLevel("medium"))
	assert.Equal(t, SeverityCritical, SeverityFromLevel("HIGH"))
	assert.Equal(t, SeverityEmergency, SeverityFromLevel("critical"))
}
