// Package manager owns the device-connection lifecycle: it discovers,
// selects, connects to and supervises a single heart-rate sensor, decodes
// its notifications through the resolved adaptor and publishes normalized
// readings. One goroutine (the link task) drives the whole state machine
// and is the sole caller of Publish.
package manager

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"hrlink/internal/adaptor"
	"hrlink/internal/bleio"
	"hrlink/internal/catalog"
	"hrlink/internal/hrm"
	"hrlink/scanner"
)

// Publisher receives every reading the manager produces.
type Publisher interface {
	Publish(hrm.Reading)
}

// CatalogAppender persists a newly accepted sensor. Appends run between
// connection attempts, never while one is in flight.
type CatalogAppender interface {
	Append(catalog.Sensor) error
}

// Chooser resolves a scan that the policy could not decide, typically by
// asking the user. ok=false with nil error means "rescan now".
type Chooser interface {
	Choose(ctx context.Context, candidates []scanner.Candidate, timeout time.Duration) (scanner.Candidate, bool, error)
}

// Policy captures the startup flags steering device selection.
type Policy struct {
	// AcceptNewDevice pairs an unknown device without confirmation when
	// the mac override points at it.
	AcceptNewDevice bool
	// PinDevice restricts reconnects to the device connected last.
	PinDevice bool
	// NoninteractiveRescan rescans automatically after a disconnect.
	NoninteractiveRescan bool
	// Mac is an explicit address override; it wins over Index.
	Mac string
	// Index selects the nth catalog entry (1-based); 0 means unset.
	Index int
	// ForceAdaptorID bypasses adaptor probing.
	ForceAdaptorID string
	// DebugDevice routes everything through the debug adaptor.
	DebugDevice bool
}

// Options tunes the lifecycle timing.
type Options struct {
	ScanDuration   time.Duration
	RetryDelay     time.Duration
	ConnectTimeout time.Duration
	ChooserTimeout time.Duration
}

// DefaultOptions mirrors the timing the scanner and the chooser were
// designed around.
func DefaultOptions() Options {
	return Options{
		ScanDuration:   2 * time.Second,
		RetryDelay:     time.Second,
		ConnectTimeout: 10 * time.Second,
		ChooserTimeout: time.Second,
	}
}

// Manager is the connection lifecycle state machine.
type Manager struct {
	logger   *logrus.Logger
	registry *adaptor.Registry
	pub      Publisher
	cat      *catalog.Catalog
	store    CatalogAppender
	chooser  Chooser
	scanner  *scanner.Scanner
	policy   Policy
	opts     Options

	mu            sync.RWMutex
	state         State
	lastAddr      string
	approved      map[string]catalog.Sensor
	forcedAdaptor string

	reconnect chan struct{}
}

// New creates a manager. store and chooser may be nil: without a store
// newly accepted devices are not persisted, without a chooser ambiguous
// scans are retried instead of resolved interactively.
func New(logger *logrus.Logger, registry *adaptor.Registry, pub Publisher, cat *catalog.Catalog, policy Policy, opts Options, store CatalogAppender, chooser Chooser) *Manager {
	if logger == nil {
		logger = logrus.New()
	}
	return &Manager{
		logger:    logger,
		registry:  registry,
		pub:       pub,
		cat:       cat,
		store:     store,
		chooser:   chooser,
		scanner:   scanner.New(logger),
		policy:    policy,
		opts:      opts,
		approved:  make(map[string]catalog.Sensor),
		reconnect: make(chan struct{}, 1),
	}
}

// State returns the current lifecycle state.
func (m *Manager) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// RequestReconnect wakes a manager that is sitting in Disconnected
// waiting for an external trigger. Safe from any goroutine; coalesces
// repeated requests.
func (m *Manager) RequestReconnect() {
	select {
	case m.reconnect <- struct{}{}:
	default:
	}
}

// AcceptCandidate approves connecting to a device the catalog does not
// know, and triggers a reconnect so the approval takes effect.
func (m *Manager) AcceptCandidate(s catalog.Sensor) error {
	mac, err := catalog.NormalizeMAC(s.MAC)
	if err != nil {
		return err
	}
	s.MAC = mac
	m.mu.Lock()
	m.approved[mac] = s
	m.mu.Unlock()
	m.RequestReconnect()
	return nil
}

// ForceAdaptor overrides adaptor selection for subsequent connections.
// An empty id restores probing.
func (m *Manager) ForceAdaptor(id string) error {
	if id != "" {
		if _, ok := m.registry.Get(id); !ok {
			return fmt.Errorf("%w: %q", adaptor.ErrUnknownAdaptor, id)
		}
	}
	m.mu.Lock()
	m.forcedAdaptor = id
	m.mu.Unlock()
	return nil
}

// Run drives the state machine until ctx is cancelled or the radio is
// lost. It publishes a terminal disconnected reading before returning.
// Only bleio.ErrRadioUnavailable (wrapped) escapes as a failure; link
// errors are retried according to the rescan policy.
func (m *Manager) Run(ctx context.Context, radio bleio.Radio) error {
	defer m.pub.Publish(hrm.Disconnected())
	defer m.setState(State{Kind: StateDisconnected})

	attempts := 0
	skipGate := false

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		// After a completed attempt, a new scan needs either the rescan
		// policy or an external trigger.
		if attempts > 0 && !m.policy.NoninteractiveRescan && !skipGate {
			m.setState(State{Kind: StateDisconnected, Sensor: m.state.Sensor})
			m.logger.Info("Waiting for reconnect request...")
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-m.reconnect:
			}
		}
		skipGate = false

		done, err := m.attempt(ctx, radio, attempts > 0)
		if err != nil {
			if errors.Is(err, bleio.ErrRadioUnavailable) || ctx.Err() != nil {
				return err
			}
			m.logger.WithError(err).Error("Connection attempt failed; retrying")
		}
		switch done {
		case attemptRescan:
			// The chooser asked for an immediate rescan.
			skipGate = true
			continue
		case attemptRetryAfterDelay:
			skipGate = true
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(m.opts.RetryDelay):
			}
			continue
		case attemptCompleted:
			attempts++
		}
	}
}

type attemptOutcome int

const (
	// attemptCompleted means a selection was made and the connect path
	// ran to its end, successfully or not; the rescan gate applies next.
	attemptCompleted attemptOutcome = iota
	// attemptRescan means nothing was decided and scanning should resume
	// immediately.
	attemptRescan
	// attemptRetryAfterDelay means the scan came up empty or failed
	// transiently.
	attemptRetryAfterDelay
)

// attempt runs one scan-select-connect-supervise cycle.
func (m *Manager) attempt(ctx context.Context, radio bleio.Radio, isReconnect bool) (attemptOutcome, error) {
	m.setState(State{Kind: StateScanning})

	candidates, err := m.scanner.Scan(ctx, radio, m.cat, &scanner.Options{
		Duration:  m.opts.ScanDuration,
		Selection: m.selectionFilter(),
	})
	if err != nil {
		return attemptRetryAfterDelay, err
	}
	if len(candidates) == 0 {
		m.logger.Warn("Found no devices at all, repeating search...")
		return attemptRetryAfterDelay, nil
	}

	cand, ok, err := m.chooseCandidate(ctx, candidates, isReconnect)
	if err != nil {
		return attemptCompleted, err
	}
	if !ok {
		return attemptRescan, nil
	}

	m.setState(State{Kind: StateCandidateFound, Sensor: m.identityFor(cand)})

	if err := m.connectAndSupervise(ctx, radio, cand); err != nil {
		return attemptCompleted, err
	}
	return attemptCompleted, nil
}

// selectionFilter builds the address preference list: the pinned device
// wins, then an explicit mac override, then the configured index.
func (m *Manager) selectionFilter() []string {
	m.mu.RLock()
	lastAddr := m.lastAddr
	m.mu.RUnlock()

	switch {
	case m.policy.PinDevice && lastAddr != "":
		return []string{lastAddr}
	case m.policy.Mac != "":
		return []string{m.policy.Mac}
	case m.policy.Index > 0:
		sensor, err := m.cat.ByIndex(m.policy.Index)
		if err != nil {
			m.logger.WithError(err).Warn("Configured sensor index is unusable")
			return nil
		}
		return []string{sensor.MAC}
	}
	return nil
}

// chooseCandidate applies the selection policy to a ranked scan result,
// falling back to the interactive chooser when nothing decides.
func (m *Manager) chooseCandidate(ctx context.Context, candidates []scanner.Candidate, isReconnect bool) (scanner.Candidate, bool, error) {
	first := candidates[0]
	if m.policy.AcceptNewDevice {
		if first.Selected {
			return first, true, nil
		}
	} else if first.Known {
		return first, true, nil
	}

	// Devices approved through AcceptCandidate count as known.
	m.mu.RLock()
	for _, c := range candidates {
		if _, ok := m.approved[c.Addr]; ok {
			m.mu.RUnlock()
			return c, true, nil
		}
	}
	m.mu.RUnlock()

	if m.chooser == nil {
		m.logger.Warn("Could not determine a device to connect to")
		return scanner.Candidate{}, false, nil
	}

	// On noninteractive reconnects the prompt times out into a rescan so
	// an absent operator cannot stall recovery.
	var timeout time.Duration
	if m.policy.NoninteractiveRescan && isReconnect {
		timeout = m.opts.ChooserTimeout
	}
	return m.chooser.Choose(ctx, candidates, timeout)
}

// identityFor resolves a candidate to a sensor identity, preferring the
// catalog entry, then an explicit approval, then the advertisement.
func (m *Manager) identityFor(cand scanner.Candidate) catalog.Sensor {
	if cand.Known {
		return cand.Identity
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if s, ok := m.approved[cand.Addr]; ok {
		if s.Name == "" {
			s.Name = cand.Name
		}
		return s
	}
	return catalog.Sensor{Name: cand.Name, MAC: cand.Addr}
}

// forcedAdaptorID resolves the adaptor override for one connection:
// debug mode first, then a runtime ForceAdaptor or the policy flag, then
// the catalog entry's pinned adaptor.
func (m *Manager) forcedAdaptorID(identity catalog.Sensor) string {
	if m.policy.DebugDevice {
		return "debug"
	}
	m.mu.RLock()
	forced := m.forcedAdaptor
	m.mu.RUnlock()
	if forced != "" {
		return forced
	}
	if m.policy.ForceAdaptorID != "" {
		return m.policy.ForceAdaptorID
	}
	return identity.AdaptorID
}

// connectAndSupervise dials the candidate, resolves its adaptor and runs
// the notification loop until the link drops or ctx is cancelled. Every
// exit path that got past Connecting publishes a terminal disconnected
// reading.
func (m *Manager) connectAndSupervise(ctx context.Context, radio bleio.Radio, cand scanner.Candidate) error {
	identity := m.identityFor(cand)
	m.setState(State{Kind: StateConnecting, Sensor: identity})
	m.logger.WithFields(logrus.Fields{
		"device":  identity.Name,
		"address": identity.MAC,
	}).Info("Trying to connect...")

	dialCtx, cancel := context.WithTimeout(ctx, m.opts.ConnectTimeout)
	conn, err := radio.Dial(dialCtx, cand.Addr)
	cancel()
	if err != nil {
		m.failConnecting(identity)
		return fmt.Errorf("connect to %q failed: %w", identity.Name, err)
	}
	defer conn.Close()

	ad, err := m.registry.Select(conn.Signature(), m.forcedAdaptorID(identity))
	if err != nil {
		m.failConnecting(identity)
		if errors.Is(err, adaptor.ErrNoCompatibleAdaptor) {
			m.logger.WithField("device", identity.Name).
				Warn("No matching adaptor for device; you may need to force one in the config")
		}
		return fmt.Errorf("adaptor resolution for %q failed: %w", identity.Name, err)
	}

	m.setState(State{Kind: StateConnected, Sensor: identity, AdaptorID: ad.ID()})
	m.logger.WithFields(logrus.Fields{
		"device":  identity.Name,
		"adaptor": ad.ID(),
	}).Info("Device ready")

	m.mu.Lock()
	m.lastAddr = cand.Addr
	m.mu.Unlock()

	// A newly accepted device becomes a catalog entry with its resolved
	// adaptor pinned, so future reconnects skip probing.
	if !cand.Known && m.store != nil {
		identity.AdaptorID = ad.ID()
		if err := m.store.Append(identity); err != nil {
			m.logger.WithError(err).Error("Could not persist newly accepted device")
		}
	}

	err = m.pump(ctx, conn, ad)
	m.pub.Publish(hrm.Disconnected())
	m.setState(State{Kind: StateDisconnected, Sensor: identity})
	m.logger.WithField("device", identity.Name).Info("Disconnected from device")
	return err
}

// failConnecting reports a failed Connecting phase: terminal disconnected
// reading, then back to Disconnected.
func (m *Manager) failConnecting(identity catalog.Sensor) {
	m.pub.Publish(hrm.Disconnected())
	m.setState(State{Kind: StateDisconnected, Sensor: identity})
}

// notification pairs a characteristic with one received payload.
type notification struct {
	uuid string
	data []byte
}

// pump is the notification loop: it subscribes to the adaptor's
// characteristics and publishes one reading per decoded notification
// until the link drops. Decode failures skip the reading, nothing else.
func (m *Manager) pump(ctx context.Context, conn bleio.Conn, ad adaptor.Adaptor) error {
	notes := make(chan notification, 32)
	handler := func(uuid string) func([]byte) {
		return func(data []byte) {
			buf := make([]byte, len(data))
			copy(buf, data)
			select {
			case notes <- notification{uuid: uuid, data: buf}:
			default:
				// The link task is wedged on something; dropping here is
				// preferable to blocking the BLE callback.
				m.logger.WithField("characteristic", uuid).Debug("Notification queue full, dropping")
			}
		}
	}

	measurement := adaptor.NormalizeUUID(ad.MeasurementUUID())
	if err := conn.Subscribe(measurement, handler(measurement)); err != nil {
		return fmt.Errorf("failed to subscribe to measurements: %w", err)
	}

	// Battery is an overlay: seed it from an initial read, track it from
	// notifications, and merge it into every published reading.
	var lastBattery *uint8
	battery := ""
	if uuid := ad.BatteryUUID(); uuid != "" {
		battery = adaptor.NormalizeUUID(uuid)
		if data, err := conn.Read(battery); err == nil {
			if pct, err := ad.DecodeBattery(data); err == nil {
				lastBattery = &pct
				m.logger.WithField("battery", pct).Info("Device battery level")
			}
		}
		if err := conn.Subscribe(battery, handler(battery)); err != nil {
			m.logger.WithError(err).Debug("Battery notifications unavailable")
		}
	}

	// Link up: readings start flowing before the first notification.
	lastSample := hrm.Sample{Battery: lastBattery}
	m.pub.Publish(hrm.Connected(lastSample))

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-conn.Disconnected():
			return nil
		case n := <-notes:
			switch n.uuid {
			case measurement:
				sample, err := ad.Decode(n.data)
				if err != nil {
					m.logger.WithError(err).Warn("Skipping undecodable notification")
					continue
				}
				sample.Battery = lastBattery
				lastSample = sample
				m.pub.Publish(hrm.Connected(sample))
			case battery:
				pct, err := ad.DecodeBattery(n.data)
				if err != nil {
					m.logger.WithError(err).Warn("Skipping undecodable battery notification")
					continue
				}
				lastBattery = &pct
				lastSample.Battery = lastBattery
				m.pub.Publish(hrm.Connected(lastSample))
			}
		}
	}
}

func (m *Manager) setState(s State) {
	m.mu.Lock()
	prev := m.state
	m.state = s
	m.mu.Unlock()

	if prev.Kind != s.Kind {
		m.logger.WithFields(logrus.Fields{
			"from": prev.Kind.String(),
			"to":   s.Kind.String(),
		}).Debug("Connection state changed")
	}
}
