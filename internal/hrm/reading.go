// Package hrm defines the normalized heart-rate reading exchanged between
// the connection manager and the distribution hub.
package hrm

import "time"

// Sample carries the vendor-reported values of one connected observation.
// Contact and Battery are nil when the sensor does not report them.
type Sample struct {
	BPM     uint16 `json:"hr"`
	Contact *bool  `json:"contact_ok"`
	Battery *uint8 `json:"battery"`
}

// Reading is a timestamped sensor observation. A nil Sample means the
// sensor is disconnected; a non-nil Sample always carries a heart rate.
// Consumers can therefore tell "disconnected" apart from "connected with
// no battery value" without ambiguity.
type Reading struct {
	Timestamp time.Time `json:"timestamp"`
	Sample    *Sample   `json:"hr_state"`
}

// Connected reports whether the reading carries a live sample.
func (r Reading) Connected() bool {
	return r.Sample != nil
}

// Disconnected returns a reading marking loss (or absence) of a sensor link.
func Disconnected() Reading {
	return Reading{Timestamp: time.Now().UTC()}
}

// Connected returns a reading carrying the given sample.
func Connected(s Sample) Reading {
	return Reading{Timestamp: time.Now().UTC(), Sample: &s}
}
