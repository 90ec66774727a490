package notifications

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/frostdev-ops/pma-monitor/internal/core/alerts"
	apperrors "github.com/frostdev-ops/pma-monitor/pkg/errors"
)

// Notification is the message handed to a transport
type Notification struct {
	Severity  string         `json:"severity"`
	Title     string         `json:"title"`
	Body      string         `json:"body"`
	AlertID   string         `json:"alert_id,omitempty"`
	AlertType string         `json:"alert_type,omitempty"`
	Source    string         `json:"source,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
	Items     []Notification `json:"items,omitempty"`
}

// FromAlert builds the notification for an alert
func FromAlert(a alerts.Alert) Notification {
	return Notification{
		Severity:  string(a.Severity),
		Title:     a.Title,
		Body:      a.Description,
		AlertID:   a.ID,
		AlertType: string(a.Type),
		Source:    a.Source.Component,
		Timestamp: a.CreatedAt,
	}
}

// Sender delivers notifications over one transport
type Sender interface {
	Send(ctx context.Context, n Notification) error
}

// SenderFunc adapts a function to Sender
type SenderFunc func(ctx context.Context, n Notification) error

func (f SenderFunc) Send(ctx context.Context, n Notification) error {
	return f(ctx, n)
}

// DeliveryObserver counts deliveries per channel
type DeliveryObserver interface {
	RecordNotification(channelID string, success bool)
}

// Delivery records one attempt to deliver to a channel
type Delivery struct {
	ChannelID string    `json:"channel_id"`
	Frequency Frequency `json:"frequency"`
	Severity  string    `json:"severity"`
	Title     string    `json:"title"`
	Items     int       `json:"items"`
	Success   bool      `json:"success"`
	Error     string    `json:"error,omitempty"`
	At        time.Time `json:"at"`
}

// DispatchResult summarises what happened to one alert
type DispatchResult struct {
	Matched   int `json:"matched"`
	Delivered int `json:"delivered"`
	Queued    int `json:"queued"`
	Failed    int `json:"failed"`
}

// Options configures the router
type Options struct {
	HistorySize    int
	BatchInterval  time.Duration
	DigestSchedule string
	SendTimeout    time.Duration
}

type channelState struct {
	channel Channel
	sender  Sender
	limiter *rate.Limiter
	queued  map[Frequency][]Notification
}

// Router fans alerts and ad hoc messages out to channels
type Router struct {
	logger *logrus.Logger
	opts   Options
	cron   *cron.Cron

	mu       sync.RWMutex
	now      func() time.Time
	observer DeliveryObserver
	channels map[string]*channelState
	order    []string
	history  []Delivery
	running  bool
}

// NewRouter creates an empty router
func NewRouter(opts Options, logger *logrus.Logger) *Router {
	if opts.HistorySize <= 0 {
		opts.HistorySize = 500
	}
	if opts.BatchInterval <= 0 {
		opts.BatchInterval = 5 * time.Minute
	}
	if opts.DigestSchedule == "" {
		opts.DigestSchedule = "0 0 8 * * *"
	}
	if opts.SendTimeout <= 0 {
		opts.SendTimeout = 10 * time.Second
	}

	return &Router{
		logger:   logger,
		opts:     opts,
		now:      time.Now,
		channels: make(map[string]*channelState),
	}
}

// SetObserver installs a delivery counter
func (r *Router) SetObserver(o DeliveryObserver) {
	r.mu.Lock()
	r.observer = o
	r.mu.Unlock()
}

// SetClock overrides the time source used for windows and history
func (r *Router) SetClock(now func() time.Time) {
	r.mu.Lock()
	r.now = now
	r.mu.Unlock()
}

// AddChannel registers a channel and its transport
func (r *Router) AddChannel(ch Channel, sender Sender) error {
	if ch.ID == "" {
		return apperrors.Detailf(apperrors.ErrBadRequest, "channel id is required")
	}
	if sender == nil {
		return apperrors.Detailf(apperrors.ErrBadRequest, "channel %s has no sender", ch.ID)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.channels[ch.ID]; exists {
		return apperrors.Detailf(apperrors.ErrConflict, "channel %s already registered", ch.ID)
	}

	state := &channelState{
		channel: ch,
		sender:  sender,
		queued:  make(map[Frequency][]Notification),
	}
	if ch.RateLimit > 0 {
		burst := ch.Burst
		if burst <= 0 {
			burst = 1
		}
		state.limiter = rate.NewLimiter(rate.Limit(ch.RateLimit), burst)
	}
	r.channels[ch.ID] = state
	r.order = append(r.order, ch.ID)

	r.logger.WithFields(logrus.Fields{
		"channel_id": ch.ID,
		"transport":  ch.Transport,
		"enabled":    ch.Enabled,
		"filters":    len(ch.Filters),
	}).Info("Notification channel registered")
	return nil
}

// SetEnabled turns a channel on or off
func (r *Router) SetEnabled(id string, enabled bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	state, ok := r.channels[id]
	if !ok {
		return apperrors.Detailf(apperrors.ErrNotFound, "channel %s not found", id)
	}
	state.channel.Enabled = enabled
	return nil
}

// Channels returns the registered channels in registration order
func (r *Router) Channels() []Channel {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Channel, 0, len(r.order))
	for _, id := range r.order {
		ch := r.channels[id].channel
		ch.Filters = append([]Filter(nil), ch.Filters...)
		out = append(out, ch)
	}
	return out
}

// EnabledCount returns the number of enabled channels
func (r *Router) EnabledCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	n := 0
	for _, s := range r.channels {
		if s.channel.Enabled {
			n++
		}
	}
	return n
}

type target struct {
	id     string
	sender Sender
	limit  *rate.Limiter
}

// Dispatch routes an alert to every enabled channel with a matching filter.
// Immediate deliveries happen before Dispatch returns; batched and digest
// deliveries are queued for the next flush. Channel failures are logged and
// never returned.
func (r *Router) Dispatch(ctx context.Context, a alerts.Alert) DispatchResult {
	n := FromAlert(a)
	var result DispatchResult
	var immediate []target

	r.mu.Lock()
	at := r.now()
	for _, id := range r.order {
		state := r.channels[id]
		if !state.channel.Enabled {
			continue
		}
		freq, ok := state.channel.match(a, at)
		if !ok {
			continue
		}
		result.Matched++
		if freq == FrequencyImmediate {
			immediate = append(immediate, target{id: id, sender: state.sender, limit: state.limiter})
			continue
		}
		state.queued[freq] = append(state.queued[freq], n)
		result.Queued++
	}
	r.mu.Unlock()

	for _, t := range immediate {
		if r.deliver(ctx, t, FrequencyImmediate, n, 1) {
			result.Delivered++
		} else {
			result.Failed++
		}
	}

	if result.Matched == 0 {
		r.logger.WithFields(logrus.Fields{
			"alert_id": a.ID,
			"severity": a.Severity,
		}).Debug("No notification channel matched alert")
	}
	return result
}

// Notify sends a message to the given channels immediately, bypassing
// filters. An empty list means every enabled channel. It returns how many
// channels were attempted and how many accepted the message.
func (r *Router) Notify(ctx context.Context, channelIDs []string, n Notification) (attempted, delivered int) {
	r.mu.RLock()
	if n.Timestamp.IsZero() {
		n.Timestamp = r.now()
	}
	var targets []target
	if len(channelIDs) == 0 {
		for _, id := range r.order {
			if s := r.channels[id]; s.channel.Enabled {
				targets = append(targets, target{id: id, sender: s.sender, limit: s.limiter})
			}
		}
	} else {
		for _, id := range channelIDs {
			s, ok := r.channels[id]
			if !ok {
				r.logger.WithField("channel_id", id).Warn("Unknown notification channel")
				continue
			}
			if !s.channel.Enabled {
				continue
			}
			targets = append(targets, target{id: id, sender: s.sender, limit: s.limiter})
		}
	}
	r.mu.RUnlock()

	for _, t := range targets {
		attempted++
		if r.deliver(ctx, t, FrequencyImmediate, n, 1) {
			delivered++
		}
	}
	return attempted, delivered
}

// Broadcast sends a plain message. It satisfies the notifier used by
// decision actions and workflow steps.
func (r *Router) Broadcast(ctx context.Context, channelIDs []string, severity, title, body string) (int, int) {
	return r.Notify(ctx, channelIDs, Notification{Severity: severity, Title: title, Body: body})
}

// Flush delivers everything queued for the frequency, one combined
// notification per channel, and returns the number of successful deliveries
func (r *Router) Flush(ctx context.Context, freq Frequency) int {
	type pending struct {
		target target
		items  []Notification
	}

	r.mu.Lock()
	var batches []pending
	for _, id := range r.order {
		state := r.channels[id]
		items := state.queued[freq]
		if len(items) == 0 {
			continue
		}
		delete(state.queued, freq)
		if !state.channel.Enabled {
			continue
		}
		batches = append(batches, pending{
			target: target{id: id, sender: state.sender, limit: state.limiter},
			items:  items,
		})
	}
	at := r.now()
	r.mu.Unlock()

	delivered := 0
	for _, b := range batches {
		if r.deliver(ctx, b.target, freq, combine(freq, b.items, at), len(b.items)) {
			delivered++
		}
	}
	return delivered
}

// Queued returns the number of notifications waiting for a flush
func (r *Router) Queued(freq Frequency) int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	n := 0
	for _, s := range r.channels {
		n += len(s.queued[freq])
	}
	return n
}

func combine(freq Frequency, items []Notification, at time.Time) Notification {
	sort.SliceStable(items, func(i, j int) bool {
		return alerts.Severity(items[i].Severity).Rank() > alerts.Severity(items[j].Severity).Rank()
	})

	label := "Alert batch"
	if freq == FrequencyDigest {
		label = "Alert digest"
	}

	var body strings.Builder
	for _, item := range items {
		fmt.Fprintf(&body, "[%s] %s\n", strings.ToUpper(item.Severity), item.Title)
	}

	return Notification{
		Severity:  items[0].Severity,
		Title:     fmt.Sprintf("%s: %d alerts", label, len(items)),
		Body:      body.String(),
		Timestamp: at,
		Items:     items,
	}
}

// deliver sends to one channel. Panics and errors stay inside.
func (r *Router) deliver(ctx context.Context, t target, freq Frequency, n Notification, items int) (ok bool) {
	var err error
	if t.limit != nil && !t.limit.Allow() {
		err = fmt.Errorf("rate limit exceeded")
	} else {
		err = r.send(ctx, t.sender, n)
	}

	r.mu.Lock()
	record := Delivery{
		ChannelID: t.id,
		Frequency: freq,
		Severity:  n.Severity,
		Title:     n.Title,
		Items:     items,
		Success:   err == nil,
		At:        r.now(),
	}
	if err != nil {
		record.Error = err.Error()
	}
	r.history = append(r.history, record)
	if len(r.history) > r.opts.HistorySize {
		r.history = r.history[len(r.history)-r.opts.HistorySize:]
	}
	observer := r.observer
	r.mu.Unlock()

	if observer != nil {
		observer.RecordNotification(t.id, err == nil)
	}

	if err != nil {
		r.logger.WithError(err).WithFields(logrus.Fields{
			"channel_id": t.id,
			"frequency":  freq,
			"title":      n.Title,
		}).Warn("Notification delivery failed")
		return false
	}
	return true
}

func (r *Router) send(ctx context.Context, sender Sender, n Notification) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("sender panicked: %v", rec)
		}
	}()

	ctx, cancel := context.WithTimeout(ctx, r.opts.SendTimeout)
	defer cancel()
	return sender.Send(ctx, n)
}

// History returns up to limit deliveries, newest first
func (r *Router) History(limit int) []Delivery {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Delivery, 0, len(r.history))
	for i := len(r.history) - 1; i >= 0; i-- {
		if limit > 0 && len(out) >= limit {
			break
		}
		out = append(out, r.history[i])
	}
	return out
}

// Start schedules batched and digest flushes
func (r *Router) Start() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.running {
		return fmt.Errorf("notification router is already running")
	}

	c := cron.New(
		cron.WithSeconds(),
		cron.WithChain(cron.SkipIfStillRunning(cron.DefaultLogger), cron.Recover(cron.DefaultLogger)),
	)
	if _, err := c.AddFunc(fmt.Sprintf("@every %s", r.opts.BatchInterval), func() {
		r.Flush(context.Background(), FrequencyBatched)
	}); err != nil {
		return fmt.Errorf("failed to schedule batch flush: %w", err)
	}
	if _, err := c.AddFunc(r.opts.DigestSchedule, func() {
		r.Flush(context.Background(), FrequencyDigest)
	}); err != nil {
		return fmt.Errorf("failed to schedule digest flush: %w", err)
	}

	c.Start()
	r.cron = c
	r.running = true
	r.logger.WithFields(logrus.Fields{
		"batch_interval":  r.opts.BatchInterval.String(),
		"digest_schedule": r.opts.DigestSchedule,
	}).Info("Notification router started")
	return nil
}

// Stop cancels scheduled flushes and delivers whatever is still queued
func (r *Router) Stop(ctx context.Context) {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return
	}
	r.running = false
	c := r.cron
	r.mu.Unlock()

	<-c.Stop().Done()
	r.Flush(ctx, FrequencyBatched)
	r.Flush(ctx, FrequencyDigest)
}
