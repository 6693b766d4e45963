// Package emergency owns the dispatch state machine: a cancellable
// countdown that, absent user cancellation, resolves the regional
// emergency number, places the call, shares location, streams vitals and
// notifies personal contacts. Transitions run strictly forward along
// idle -> analyzing -> countdown -> contacting -> connected|failed; cancel
// is honored from analyzing and countdown only.
package emergency

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"vitalguard/internal/config"
	"vitalguard/internal/events"
	"vitalguard/internal/model"
	"vitalguard/internal/storage"
)

var (
	// ErrBelowThreshold rejects triggers under the crisis entry score.
	ErrBelowThreshold = errors.New("emergency: risk score below entry threshold")
	// ErrEpisodeActive is the decided policy for a second crisis while an
	// episode is in progress: the new detection is ignored, not queued.
	ErrEpisodeActive = errors.New("emergency: episode already active")
)

// StateError reports an invalid transition attempt; the current state is
// left unchanged.
type StateError struct {
	From model.EmergencyStatus
	Op   string
}

func (e *StateError) Error() string {
	return fmt.Sprintf("emergency: cannot %s from %s", e.Op, e.From)
}

// LocationProvider resolves the wearer's position. Implementations should
// time out internally; the dispatcher falls back to an unknown location
// rather than stalling the contact sequence.
type LocationProvider interface {
	CurrentLocation(ctx context.Context) (model.Location, error)
}

// CallDispatcher places calls and sends SMS. Fire-and-forget from the
// state machine's perspective.
type CallDispatcher interface {
	PlaceCall(ctx context.Context, number string) error
	SendSMS(ctx context.Context, recipients []string, body string) error
}

// VitalsStreamer opens a live vitals feed to the emergency endpoint.
type VitalsStreamer interface {
	OpenStream(ctx context.Context, trigger model.EmergencyTrigger) error
	CloseStream()
}

type Dispatcher struct {
	cfg      config.EmergencyConfig
	location LocationProvider
	dialer   CallDispatcher
	streamer VitalsStreamer
	bus      *events.Bus
	db       storage.Store
	logger   *slog.Logger

	mu      sync.Mutex
	episode *model.EmergencyEpisode
	cancel  context.CancelFunc
	done    chan struct{}
}

func NewDispatcher(cfg config.EmergencyConfig, location LocationProvider, dialer CallDispatcher, streamer VitalsStreamer, bus *events.Bus, db storage.Store, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{
		cfg:      cfg,
		location: location,
		dialer:   dialer,
		streamer: streamer,
		bus:      bus,
		db:       db,
		logger:   logger,
	}
}

// Trigger starts a new episode for a crisis-level finding. Only one
// episode may exist at a time; terminal episodes hold the slot until
// explicitly dismissed.
func (d *Dispatcher) Trigger(ctx context.Context, t model.EmergencyTrigger) error {
	d.mu.Lock()
	cfg := d.cfg
	if t.RiskScore <= cfg.EntryThreshold {
		d.mu.Unlock()
		return fmt.Errorf("%w: %.2f <= %.2f", ErrBelowThreshold, t.RiskScore, cfg.EntryThreshold)
	}
	if d.episode != nil {
		status := d.episode.Status
		d.mu.Unlock()
		if d.logger != nil {
			d.logger.Warn("crisis detected during active episode, ignoring", "active_status", status)
		}
		return ErrEpisodeActive
	}
	runCtx, cancel := context.WithCancel(ctx)
	ep := &model.EmergencyEpisode{
		ID:                 uuid.NewString(),
		Status:             model.EmergencyAnalyzing,
		Trigger:            t,
		CountdownRemaining: cfg.CountdownSeconds,
		StartedAt:          time.Now().UTC(),
	}
	d.episode = ep
	d.cancel = cancel
	d.done = make(chan struct{})
	d.mu.Unlock()

	if d.logger != nil {
		d.logger.Warn("emergency episode started",
			"episode_id", ep.ID,
			"condition", t.Condition,
			"risk_score", t.RiskScore,
		)
	}
	d.announce(ep.ID, model.EmergencyAnalyzing, ep.CountdownRemaining)
	d.persist(ctx, *ep)
	go d.run(runCtx, ep, cfg)
	return nil
}

// Reconfigure swaps in new dispatch settings for future episodes. An
// episode already in flight finishes on the settings it started with.
func (d *Dispatcher) Reconfigure(cfg config.EmergencyConfig) {
	d.mu.Lock()
	d.cfg = cfg
	d.mu.Unlock()
}

// Cancel aborts the episode from analyzing or countdown and returns the
// machine to idle, stopping pending timers and any in-flight vitals
// stream. From idle it is a no-op; from contacting onward it is rejected.
func (d *Dispatcher) Cancel() error {
	d.mu.Lock()
	ep := d.episode
	if ep == nil {
		d.mu.Unlock()
		return nil
	}
	switch ep.Status {
	case model.EmergencyAnalyzing, model.EmergencyCountdown:
	default:
		status := ep.Status
		d.mu.Unlock()
		return &StateError{From: status, Op: "cancel"}
	}
	id := ep.ID
	cancel := d.cancel
	done := d.done
	d.episode = nil
	d.cancel = nil
	d.mu.Unlock()

	cancel()
	<-done
	if d.streamer != nil {
		d.streamer.CloseStream()
	}
	if d.logger != nil {
		d.logger.Info("emergency episode cancelled", "episode_id", id)
	}
	d.announce(id, model.EmergencyIdle, 0)
	return nil
}

// Dismiss clears a terminal episode so a fresh crisis detection can start
// a new one.
func (d *Dispatcher) Dismiss() error {
	d.mu.Lock()
	ep := d.episode
	if ep == nil {
		d.mu.Unlock()
		return nil
	}
	switch ep.Status {
	case model.EmergencyConnected, model.EmergencyFailed:
	default:
		status := ep.Status
		d.mu.Unlock()
		return &StateError{From: status, Op: "dismiss"}
	}
	id := ep.ID
	d.episode = nil
	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}
	d.mu.Unlock()
	if d.streamer != nil {
		d.streamer.CloseStream()
	}
	d.announce(id, model.EmergencyIdle, 0)
	return nil
}

// Status returns the published state; idle when no episode exists.
func (d *Dispatcher) Status() model.EmergencyStatus {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.episode == nil {
		return model.EmergencyIdle
	}
	return d.episode.Status
}

// Episode returns a copy of the active episode.
func (d *Dispatcher) Episode() (model.EmergencyEpisode, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.episode == nil {
		return model.EmergencyEpisode{}, false
	}
	return *d.episode, true
}

func (d *Dispatcher) run(ctx context.Context, ep *model.EmergencyEpisode, cfg config.EmergencyConfig) {
	defer close(d.done)

	ticker := time.NewTicker(cfg.TickInterval)
	defer ticker.Stop()

	for remaining := cfg.CountdownSeconds; remaining >= 0; remaining-- {
		if !d.setCountdown(ctx, ep, remaining) {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}

	if !d.transition(ctx, ep, model.EmergencyContacting, 0) {
		return
	}
	d.contact(ctx, ep, cfg)
}

func (d *Dispatcher) setCountdown(ctx context.Context, ep *model.EmergencyEpisode, remaining int) bool {
	return d.transition(ctx, ep, model.EmergencyCountdown, remaining)
}

// transition applies a forward state change if the episode is still the
// active one; a cancelled episode is never resurrected.
func (d *Dispatcher) transition(ctx context.Context, ep *model.EmergencyEpisode, status model.EmergencyStatus, remaining int) bool {
	d.mu.Lock()
	if d.episode != ep {
		d.mu.Unlock()
		return false
	}
	ep.Status = status
	ep.CountdownRemaining = remaining
	if status == model.EmergencyConnected || status == model.EmergencyFailed {
		ep.EndedAt = time.Now().UTC()
	}
	snapshot := *ep
	d.mu.Unlock()

	d.announce(snapshot.ID, status, remaining)
	d.persist(ctx, snapshot)
	return true
}

// contact runs the dispatch sequence. Individual step failures are logged
// and skipped; only a total failure to place any call ends in failed.
func (d *Dispatcher) contact(ctx context.Context, ep *model.EmergencyEpisode, cfg config.EmergencyConfig) {
	loc := d.resolveLocation(ctx)
	d.mu.Lock()
	ep.Trigger.Location = loc
	trigger := ep.Trigger
	d.mu.Unlock()

	nums := LookupNumbers(cfg.CountryCode)
	dialed, ok := d.placeEmergencyCall(ctx, nums.Primary, cfg.FallbackNumbers)
	if !ok {
		d.fail(ctx, ep, "all emergency call attempts failed")
		return
	}

	if err := d.dialer.SendSMS(ctx, []string{dialed}, locationSMS(trigger)); err != nil && d.logger != nil {
		d.logger.Warn("location share failed", "err", err)
	}
	if d.streamer != nil {
		if err := d.streamer.OpenStream(ctx, trigger); err != nil && d.logger != nil {
			d.logger.Warn("vitals stream failed to open", "err", err)
		}
	}
	d.notifyContacts(ctx, trigger, cfg.Contacts)

	d.transition(ctx, ep, model.EmergencyConnected, 0)
	if d.logger != nil {
		d.logger.Warn("emergency services contacted", "episode_id", ep.ID, "number", dialed)
	}
}

func (d *Dispatcher) resolveLocation(ctx context.Context) model.Location {
	if d.location == nil {
		return model.Location{}
	}
	loc, err := d.location.CurrentLocation(ctx)
	if err != nil {
		if d.logger != nil {
			d.logger.Warn("location unavailable, using unknown", "err", err)
		}
		return model.Location{}
	}
	loc.Known = true
	return loc
}

// placeEmergencyCall tries the regional number first, then walks the fixed
// direct-dial fallback list. A failed attempt never silently stops the
// sequence.
func (d *Dispatcher) placeEmergencyCall(ctx context.Context, primary string, fallbacks []string) (string, bool) {
	tried := map[string]bool{}
	for _, number := range append([]string{primary}, fallbacks...) {
		if number == "" || tried[number] {
			continue
		}
		tried[number] = true
		if err := d.dialer.PlaceCall(ctx, number); err != nil {
			if d.logger != nil {
				d.logger.Warn("emergency call failed", "number", number, "err", err)
			}
			continue
		}
		return number, true
	}
	return "", false
}

// notifyContacts works through personal contacts in ascending priority
// order, SMS first then a call, best-effort per contact.
func (d *Dispatcher) notifyContacts(ctx context.Context, trigger model.EmergencyTrigger, configured []config.ContactConfig) {
	contacts := make([]config.ContactConfig, len(configured))
	copy(contacts, configured)
	sort.SliceStable(contacts, func(i, j int) bool { return contacts[i].Priority < contacts[j].Priority })
	for _, c := range contacts {
		if err := d.dialer.SendSMS(ctx, []string{c.Phone}, contactSMS(trigger)); err != nil {
			if d.logger != nil {
				d.logger.Warn("contact sms failed", "contact", c.Name, "err", err)
			}
		}
		if err := d.dialer.PlaceCall(ctx, c.Phone); err != nil {
			if d.logger != nil {
				d.logger.Warn("contact call failed", "contact", c.Name, "err", err)
			}
		}
	}
}

func (d *Dispatcher) fail(ctx context.Context, ep *model.EmergencyEpisode, reason string) {
	d.mu.Lock()
	if d.episode == ep {
		ep.FailReason = reason
	}
	d.mu.Unlock()
	d.transition(ctx, ep, model.EmergencyFailed, 0)
	if d.logger != nil {
		d.logger.Error("emergency dispatch failed", "episode_id", ep.ID, "reason", reason)
	}
}

func (d *Dispatcher) announce(id string, status model.EmergencyStatus, remaining int) {
	if d.bus != nil {
		d.bus.Publish(model.EmergencyStateChanged{EpisodeID: id, Status: status, Remaining: remaining})
	}
}

func (d *Dispatcher) persist(ctx context.Context, ep model.EmergencyEpisode) {
	if d.db == nil {
		return
	}
	if err := d.db.SaveEpisode(ctx, ep); err != nil && d.logger != nil {
		d.logger.Warn("persist episode failed", "err", err)
	}
}

func locationSMS(t model.EmergencyTrigger) string {
	if !t.Location.Known {
		return fmt.Sprintf("Medical emergency (%s). Location unknown.", t.Condition)
	}
	return fmt.Sprintf("Medical emergency (%s). Location: %.5f,%.5f (+/- %.0fm)",
		t.Condition, t.Location.Latitude, t.Location.Longitude, t.Location.Accuracy)
}

func contactSMS(t model.EmergencyTrigger) string {
	return fmt.Sprintf("Emergency alert: %s detected (risk %.0f%%). Emergency services have been contacted.",
		t.Condition, t.RiskScore*100)
}
