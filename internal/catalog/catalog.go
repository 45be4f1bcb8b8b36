// Package catalog holds the known-sensor identities that scan results are
// matched against. Entries are opaque to the rest of the core; loading and
// persisting them belongs to the configuration collaborator.
package catalog

import (
	"fmt"
	"net"
	"strings"
)

// Sensor identifies one previously accepted heart-rate monitor. The MAC
// address is the unique matching key; AdaptorID, when set, forces adaptor
// selection for this device.
type Sensor struct {
	Name      string `yaml:"name" json:"name"`
	MAC       string `yaml:"mac" json:"mac"`
	AdaptorID string `yaml:"adaptor_id,omitempty" json:"adaptor_id,omitempty"`
}

// Catalog is an ordered list of known sensors with at most one entry per
// address. It is read-only for the duration of a connection attempt;
// appending a newly accepted device happens between attempts.
type Catalog struct {
	sensors []Sensor
}

// New builds a catalog from the configured sensor list, normalizing
// addresses and dropping duplicates (first entry per address wins).
func New(sensors []Sensor) (*Catalog, error) {
	c := &Catalog{}
	for _, s := range sensors {
		mac, err := NormalizeMAC(s.MAC)
		if err != nil {
			return nil, fmt.Errorf("catalog entry %q: %w", s.Name, err)
		}
		s.MAC = mac
		c.add(s)
	}
	return c, nil
}

func (c *Catalog) add(s Sensor) bool {
	for _, known := range c.sensors {
		if known.MAC == s.MAC {
			return false
		}
	}
	c.sensors = append(c.sensors, s)
	return true
}

// Add appends a sensor unless its address is already known. Returns true
// when the catalog grew.
func (c *Catalog) Add(s Sensor) (bool, error) {
	mac, err := NormalizeMAC(s.MAC)
	if err != nil {
		return false, err
	}
	s.MAC = mac
	return c.add(s), nil
}

// MatchAddr returns the sensor whose address equals addr.
func (c *Catalog) MatchAddr(addr string) (Sensor, bool) {
	mac, err := NormalizeMAC(addr)
	if err != nil {
		return Sensor{}, false
	}
	for _, s := range c.sensors {
		if s.MAC == mac {
			return s, true
		}
	}
	return Sensor{}, false
}

// ByIndex returns the 1-based nth sensor. Index 0 is coerced to 1 to keep
// the historical CLI behavior; anything past the list is an error.
func (c *Catalog) ByIndex(index int) (Sensor, error) {
	if index == 0 {
		index = 1
	}
	if index < 1 || index > len(c.sensors) {
		return Sensor{}, fmt.Errorf("sensor index %d out of range (1 - %d)", index, len(c.sensors))
	}
	return c.sensors[index-1], nil
}

// Sensors returns a copy of the catalog entries in order.
func (c *Catalog) Sensors() []Sensor {
	out := make([]Sensor, len(c.sensors))
	copy(out, c.sensors)
	return out
}

// Len returns the number of known sensors.
func (c *Catalog) Len() int {
	return len(c.sensors)
}

// NormalizeMAC validates a hardware address and returns its canonical
// lowercase colon-separated form, matching the address strings the BLE
// layer produces.
func NormalizeMAC(addr string) (string, error) {
	hw, err := net.ParseMAC(strings.TrimSpace(addr))
	if err != nil {
		return "", fmt.Errorf("invalid hardware address %q: %w", addr, err)
	}
	return strings.ToLower(hw.String()), nil
}
