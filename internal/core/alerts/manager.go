package alerts

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Publisher receives alert lifecycle events
type Publisher interface {
	Publish(topic string, payload interface{})
}

// Options configures the alert lifecycle
type Options struct {
	DedupWindow           time.Duration
	AutoResolveDelay      time.Duration
	AutoResolveConfidence float64
	DefaultTTL            time.Duration
	Retention             time.Duration
	MaxAlerts             int
}

// DefaultOptions returns the standard lifecycle settings
func DefaultOptions() Options {
	return Options{
		DedupWindow:           5 * time.Minute,
		AutoResolveDelay:      30 * time.Second,
		AutoResolveConfidence: 0.8,
		DefaultTTL:            24 * time.Hour,
		Retention:             7 * 24 * time.Hour,
		MaxAlerts:             5000,
	}
}

// ResolutionCheck decides whether an alert may still be auto-resolved
type ResolutionCheck func(Alert) bool

type dedupKey struct {
	entityID  string
	alertType Type
}

type publication struct {
	topic string
	alert Alert
}

// Manager owns every alert state transition
type Manager struct {
	opts      Options
	logger    *logrus.Logger
	publisher Publisher
	delay     *DelayQueue
	now       func() time.Time

	mu        sync.RWMutex
	alerts    map[string]*Alert
	open      map[dedupKey]string
	pending   []string
	autoCheck ResolutionCheck
}

// NewManager creates an alert manager. publisher may be nil.
func NewManager(opts Options, publisher Publisher, logger *logrus.Logger) *Manager {
	defaults := DefaultOptions()
	if opts.DedupWindow <= 0 {
		opts.DedupWindow = defaults.DedupWindow
	}
	if opts.AutoResolveDelay <= 0 {
		opts.AutoResolveDelay = defaults.AutoResolveDelay
	}
	if opts.AutoResolveConfidence <= 0 {
		opts.AutoResolveConfidence = defaults.AutoResolveConfidence
	}
	if opts.MaxAlerts <= 0 {
		opts.MaxAlerts = defaults.MaxAlerts
	}

	return &Manager{
		opts:      opts,
		logger:    logger,
		publisher: publisher,
		delay:     NewDelayQueue(),
		now:       time.Now,
		alerts:    make(map[string]*Alert),
		open:      make(map[dedupKey]string),
	}
}

// SetClock overrides the manager's time source
func (m *Manager) SetClock(now func() time.Time) {
	m.mu.Lock()
	m.now = now
	m.mu.Unlock()
}

// SetResolutionCheck installs a hook consulted before auto-resolving
func (m *Manager) SetResolutionCheck(check ResolutionCheck) {
	m.mu.Lock()
	m.autoCheck = check
	m.mu.Unlock()
}

// Raise creates an alert, or refreshes the open alert with the same entity
// and type when it was created inside the dedup window. The bool result is
// true when a new alert was created.
func (m *Manager) Raise(c Candidate) (Alert, bool) {
	m.mu.Lock()

	now := m.now()
	key := dedupKey{entityID: c.Source.EntityID, alertType: c.Type}

	var stale *Alert
	if id, ok := m.open[key]; ok {
		existing := m.alerts[id]
		if existing != nil && existing.IsOpen() && now.Sub(existing.CreatedAt) >= m.opts.DedupWindow {
			stale = existing
		}
		if existing != nil && existing.IsOpen() && now.Sub(existing.CreatedAt) < m.opts.DedupWindow {
			updated := now
			if !updated.After(existing.UpdatedAt) {
				updated = existing.UpdatedAt.Add(time.Nanosecond)
			}
			existing.UpdatedAt = updated
			existing.Occurrences++
			snapshot := existing.clone()
			m.mu.Unlock()

			m.logger.WithFields(logrus.Fields{
				"alert_id":    snapshot.ID,
				"entity_id":   key.entityID,
				"type":        key.alertType,
				"occurrences": snapshot.Occurrences,
			}).Debug("Duplicate alert suppressed")

			m.publish(publication{topic: "alert:updated", alert: snapshot})
			return snapshot, false
		}
	}

	alert := &Alert{
		ID:             uuid.New().String(),
		Severity:       c.Severity,
		Type:           c.Type,
		Title:          c.Title,
		Description:    c.Description,
		Source:         c.Source,
		Context:        c.Context,
		Actionable:     c.Actionable,
		AutoResolution: c.AutoResolution,
		Occurrences:    1,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if alert.Severity == "" {
		alert.Severity = SeverityInfo
	}
	ttl := c.TTL
	if ttl <= 0 {
		ttl = m.opts.DefaultTTL
	}
	if ttl > 0 {
		expires := now.Add(ttl)
		alert.ExpiresAt = &expires
	}
	// Keep our own copy of caller-owned slices and pointers
	*alert = alert.clone()

	if len(m.alerts) >= m.opts.MaxAlerts {
		m.evictOldestTerminal()
	}

	// One open alert per key: the new alert supersedes a stale one
	var superseded *Alert
	if stale != nil {
		stale.Resolution = Resolution{
			Resolved:  true,
			By:        "system",
			At:        &now,
			Text:      "Superseded by " + alert.ID,
			Automatic: true,
		}
		m.touch(stale, now)
		m.dropOpen(stale)
		prev := stale.clone()
		superseded = &prev
	}

	m.alerts[alert.ID] = alert
	m.open[key] = alert.ID
	m.pending = append(m.pending, alert.ID)

	scheduleAuto := alert.AutoResolution.Possible && alert.AutoResolution.Confidence > m.opts.AutoResolveConfidence
	snapshot := alert.clone()
	m.mu.Unlock()

	m.logger.WithFields(logrus.Fields{
		"alert_id":  snapshot.ID,
		"severity":  snapshot.Severity,
		"type":      snapshot.Type,
		"entity_id": snapshot.Source.EntityID,
		"title":     snapshot.Title,
	}).Info("Alert created")

	if superseded != nil {
		m.delay.Cancel(superseded.ID)
		m.logger.WithFields(logrus.Fields{
			"alert_id":      superseded.ID,
			"superseded_by": snapshot.ID,
		}).Info("Alert superseded")
		m.publish(publication{topic: "alert:resolved", alert: *superseded})
	}

	if scheduleAuto {
		id := snapshot.ID
		m.delay.Schedule(id, m.opts.AutoResolveDelay, func() { m.AutoResolve(id) })
	}

	m.publish(publication{topic: "alert:created", alert: snapshot})
	return snapshot, true
}

// Acknowledge records an acknowledgement. It returns false when the alert is
// unknown, already acknowledged, or no longer open.
func (m *Manager) Acknowledge(id, userID, reason string) bool {
	m.mu.Lock()
	alert, ok := m.alerts[id]
	if !ok || alert.Acknowledgement.Acknowledged || !alert.IsOpen() {
		m.mu.Unlock()
		return false
	}

	now := m.now()
	alert.Acknowledgement = Acknowledgement{
		Acknowledged: true,
		By:           userID,
		At:           &now,
		Reason:       reason,
	}
	m.touch(alert, now)
	snapshot := alert.clone()
	m.mu.Unlock()

	m.delay.Cancel(id)

	m.logger.WithFields(logrus.Fields{
		"alert_id":        id,
		"acknowledged_by": userID,
	}).Info("Alert acknowledged")

	m.publish(publication{topic: "alert:acknowledged", alert: snapshot})
	return true
}

// Resolve records a manual resolution. It returns false when the alert is
// unknown, already resolved, or expired.
func (m *Manager) Resolve(id, userID, text string) bool {
	return m.resolve(id, userID, text, false, nil)
}

// AutoResolve resolves an alert on behalf of the system. State is re-checked
// so an alert acknowledged or resolved in the meantime is left alone.
func (m *Manager) AutoResolve(id string) bool {
	return m.resolve(id, "system", "Automatically resolved", true, func(a *Alert) bool {
		return !a.Acknowledgement.Acknowledged
	})
}

// ResolveOpenFor resolves the open alert for an entity and type, if any
func (m *Manager) ResolveOpenFor(entityID string, alertType Type, userID, text string) bool {
	m.mu.RLock()
	id, ok := m.open[dedupKey{entityID: entityID, alertType: alertType}]
	m.mu.RUnlock()
	if !ok {
		return false
	}
	return m.resolve(id, userID, text, true, nil)
}

func (m *Manager) resolve(id, userID, text string, automatic bool, guard func(*Alert) bool) bool {
	m.mu.Lock()
	alert, ok := m.alerts[id]
	if !ok || !alert.IsOpen() {
		m.mu.Unlock()
		return false
	}
	if guard != nil && !guard(alert) {
		m.mu.Unlock()
		return false
	}
	check := m.autoCheck
	if automatic && guard != nil && check != nil {
		snapshot := alert.clone()
		if !check(snapshot) {
			m.mu.Unlock()
			m.logger.WithField("alert_id", id).Debug("Auto-resolution skipped, condition persists")
			return false
		}
	}

	now := m.now()
	alert.Resolution = Resolution{
		Resolved:  true,
		By:        userID,
		At:        &now,
		Text:      text,
		Automatic: automatic,
	}
	m.touch(alert, now)
	m.dropOpen(alert)
	snapshot := alert.clone()
	m.mu.Unlock()

	m.delay.Cancel(id)

	m.logger.WithFields(logrus.Fields{
		"alert_id":    id,
		"resolved_by": userID,
		"automatic":   automatic,
		"duration":    now.Sub(snapshot.CreatedAt),
	}).Info("Alert resolved")

	m.publish(publication{topic: "alert:resolved", alert: snapshot})
	return true
}

// SweepExpired marks open alerts whose expiry has passed as expired
func (m *Manager) SweepExpired() []Alert {
	m.mu.Lock()
	now := m.now()
	var expired []Alert
	for _, alert := range m.alerts {
		if !alert.IsOpen() || alert.ExpiresAt == nil || now.Before(*alert.ExpiresAt) {
			continue
		}
		alert.Expired = true
		m.touch(alert, now)
		m.dropOpen(alert)
		expired = append(expired, alert.clone())
	}
	m.mu.Unlock()

	sortNewestFirst(expired)
	for _, a := range expired {
		m.delay.Cancel(a.ID)
		m.logger.WithField("alert_id", a.ID).Info("Alert expired")
		m.publish(publication{topic: "alert:expired", alert: a})
	}
	return expired
}

// Cleanup drops terminal alerts older than the retention period
func (m *Manager) Cleanup() int {
	if m.opts.Retention <= 0 {
		return 0
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	cutoff := m.now().Add(-m.opts.Retention)
	removed := 0
	for id, alert := range m.alerts {
		if alert.IsOpen() || alert.UpdatedAt.After(cutoff) {
			continue
		}
		delete(m.alerts, id)
		removed++
	}

	if removed > 0 {
		m.logger.WithField("removed_count", removed).Debug("Cleaned up old alerts")
	}
	return removed
}

// DrainPending returns alerts created since the last drain, oldest first
func (m *Manager) DrainPending() []Alert {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]Alert, 0, len(m.pending))
	for _, id := range m.pending {
		if alert, ok := m.alerts[id]; ok {
			out = append(out, alert.clone())
		}
	}
	m.pending = nil
	return out
}

// Get returns a snapshot of one alert
func (m *Manager) Get(id string) (Alert, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	alert, ok := m.alerts[id]
	if !ok {
		return Alert{}, false
	}
	return alert.clone(), true
}

// List returns snapshots of all alerts, newest first
func (m *Manager) List() []Alert {
	m.mu.RLock()
	out := make([]Alert, 0, len(m.alerts))
	for _, alert := range m.alerts {
		out = append(out, alert.clone())
	}
	m.mu.RUnlock()

	sortNewestFirst(out)
	return out
}

// Open returns snapshots of open alerts, newest first
func (m *Manager) Open() []Alert {
	m.mu.RLock()
	out := make([]Alert, 0)
	for _, alert := range m.alerts {
		if alert.IsOpen() {
			out = append(out, alert.clone())
		}
	}
	m.mu.RUnlock()

	sortNewestFirst(out)
	return out
}

// OpenCount returns the number of open alerts
func (m *Manager) OpenCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	count := 0
	for _, alert := range m.alerts {
		if alert.IsOpen() {
			count++
		}
	}
	return count
}

// PendingAutoResolutions returns the number of scheduled auto-resolutions
func (m *Manager) PendingAutoResolutions() int {
	return m.delay.Len()
}

// Close cancels scheduled auto-resolutions
func (m *Manager) Close() {
	m.delay.Stop()
}

// touch must be called with the lock held
func (m *Manager) touch(alert *Alert, now time.Time) {
	if !now.After(alert.UpdatedAt) {
		now = alert.UpdatedAt.Add(time.Nanosecond)
	}
	alert.UpdatedAt = now
}

// dropOpen must be called with the lock held
func (m *Manager) dropOpen(alert *Alert) {
	key := dedupKey{entityID: alert.Source.EntityID, alertType: alert.Type}
	if m.open[key] == alert.ID {
		delete(m.open, key)
	}
}

// evictOldestTerminal must be called with the lock held
func (m *Manager) evictOldestTerminal() {
	var oldestID string
	var oldest time.Time
	for id, alert := range m.alerts {
		if alert.IsOpen() {
			continue
		}
		if oldestID == "" || alert.UpdatedAt.Before(oldest) {
			oldestID = id
			oldest = alert.UpdatedAt
		}
	}

	if oldestID == "" {
		m.logger.WithField("max_alerts", m.opts.MaxAlerts).Warn("Alert table full of open alerts")
		return
	}
	delete(m.alerts, oldestID)
}

func (m *Manager) publish(p publication) {
	if m.publisher == nil {
		return
	}
	m.publisher.Publish(p.topic, p.alert)
}

func sortNewestFirst(list []Alert) {
	sort.SliceStable(list, func(i, j int) bool {
		if list[i].CreatedAt.Equal(list[j].CreatedAt) {
			return list[i].ID > list[j].ID
		}
		return list[i].CreatedAt.After(list[j].CreatedAt)
	})
}
