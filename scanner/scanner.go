// Package scanner handles BLE discovery passes and ranks the results
// against the device catalog.
package scanner

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/cornelk/hashmap"
	"github.com/sirupsen/logrus"

	"hrlink/internal/bleio"
	"hrlink/internal/catalog"
	"hrlink/internal/ringchan"
)

// DeviceEventType marks if the device was newly discovered or updated.
type DeviceEventType int

const (
	EventNew DeviceEventType = iota
	EventUpdated
)

// DeviceEvent is emitted on the event stream for every advertisement that
// passes the filters.
type DeviceEvent struct {
	Type      DeviceEventType
	Candidate Candidate
}

// Candidate is one discovered peripheral, decorated with how it relates
// to the catalog and the active selection policy.
type Candidate struct {
	Name     string
	Addr     string
	RSSI     int
	Services []string

	// Known is set when the address matches a catalog entry.
	Known bool
	// Identity is the matched catalog entry; zero value unless Known.
	Identity catalog.Sensor
	// Selected is set when the address matches the policy filter
	// (pinned device, mac override or index selection).
	Selected bool
}

// Options configures one discovery pass.
type Options struct {
	// Duration bounds the pass; zero means scan until ctx is done.
	Duration time.Duration
	// Selection lists addresses preferred by policy, in priority order.
	Selection []string
	// BlockList hides addresses entirely.
	BlockList []string
}

// DefaultOptions returns the scan settings used between reconnects.
func DefaultOptions() *Options {
	return &Options{Duration: 2 * time.Second}
}

// Scanner runs discovery passes over a Radio it borrows from the caller.
// The link task owns the radio; the scanner never keeps it.
type Scanner struct {
	logger  *logrus.Logger
	events  *ringchan.RingChannel[DeviceEvent]
	devices *hashmap.Map[string, *Candidate]
}

// New creates a scanner.
func New(logger *logrus.Logger) *Scanner {
	if logger == nil {
		logger = logrus.New()
	}
	return &Scanner{
		logger: logger,
		events: ringchan.New[DeviceEvent](100),
	}
}

// Events returns a read-only stream of device events. Slow readers lose
// the oldest events, never the newest.
func (s *Scanner) Events() <-chan DeviceEvent {
	return s.events.C()
}

// Scan performs one discovery pass and returns the candidates ranked for
// selection: policy-selected addresses first (in policy order), then
// catalog-known devices (in catalog order), then everything else by name.
// The ordering is deterministic for identical scan results, which is what
// makes "first discovered wins" reproducible.
func (s *Scanner) Scan(ctx context.Context, radio bleio.Radio, cat *catalog.Catalog, opts *Options) ([]Candidate, error) {
	if opts == nil {
		opts = DefaultOptions()
	}
	s.devices = hashmap.New[string, *Candidate]()

	scanCtx := ctx
	if opts.Duration > 0 {
		var cancel context.CancelFunc
		scanCtx, cancel = context.WithTimeout(ctx, opts.Duration)
		defer cancel()
	}

	s.logger.WithField("duration", opts.Duration).Info("Starting BLE scan...")

	err := radio.Scan(scanCtx, true, func(adv bleio.Advertisement) {
		s.handleAdvertisement(adv, cat, opts)
	})
	if err != nil {
		return nil, err
	}

	s.logger.WithField("device_count", s.devices.Len()).Info("BLE scan completed")

	candidates := make([]Candidate, 0, s.devices.Len())
	s.devices.Range(func(_ string, c *Candidate) bool {
		candidates = append(candidates, *c)
		return true
	})
	sortCandidates(candidates, cat, opts.Selection)

	return candidates, nil
}

func (s *Scanner) handleAdvertisement(adv bleio.Advertisement, cat *catalog.Catalog, opts *Options) {
	addr := strings.ToLower(adv.Addr())

	for _, blocked := range opts.BlockList {
		if strings.EqualFold(blocked, addr) {
			return
		}
	}

	cand, existing := s.devices.Get(addr)
	if !existing {
		c := &Candidate{
			Name:     adv.LocalName(),
			Addr:     addr,
			RSSI:     adv.RSSI(),
			Services: adv.Services(),
		}
		if c.Name == "" {
			c.Name = addr
		}
		if identity, ok := cat.MatchAddr(addr); ok {
			c.Known = true
			c.Identity = identity
		}
		for _, sel := range opts.Selection {
			if strings.EqualFold(sel, addr) {
				c.Selected = true
				break
			}
		}
		cand, existing = s.devices.GetOrInsert(addr, c)
	}

	event := DeviceEvent{}
	if existing {
		cand.RSSI = adv.RSSI()
		if name := adv.LocalName(); name != "" {
			cand.Name = name
		}
		event.Type = EventUpdated
	} else {
		s.logger.WithFields(logrus.Fields{
			"device":  cand.Name,
			"address": cand.Addr,
			"rssi":    cand.RSSI,
			"known":   cand.Known,
		}).Info("Discovered new device")
		event.Type = EventNew
	}
	event.Candidate = *cand

	s.events.Send(event)
}

// sortCandidates orders by selection-filter position, then catalog
// position, then lowercased name.
func sortCandidates(candidates []Candidate, cat *catalog.Catalog, selection []string) {
	catalogPos := make(map[string]int, cat.Len())
	for i, sensor := range cat.Sensors() {
		catalogPos[sensor.MAC] = i
	}
	selectionPos := make(map[string]int, len(selection))
	for i, addr := range selection {
		selectionPos[strings.ToLower(addr)] = i
	}

	rank := func(c Candidate) (int, int, string) {
		selRank := len(selection)
		if i, ok := selectionPos[c.Addr]; ok {
			selRank = i
		}
		catRank := cat.Len()
		if i, ok := catalogPos[c.Addr]; ok {
			catRank = i
		}
		return selRank, catRank, strings.ToLower(c.Name)
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		si, ci, ni := rank(candidates[i])
		sj, cj, nj := rank(candidates[j])
		if si != sj {
			return si < sj
		}
		if ci != cj {
			return ci < cj
		}
		return ni < nj
	})
}
