// Package bleio wraps the go-ble stack behind small interfaces so the
// connection manager can be driven by fakes in tests. The Radio handle is
// owned exclusively by the link task; nothing else may touch it.
package bleio

import (
	"context"
	"errors"

	"hrlink/internal/adaptor"
)

// ErrRadioUnavailable marks loss or absence of the underlying Bluetooth
// adapter. It is fatal to the process: there is no fallback transport.
var ErrRadioUnavailable = errors.New("bluetooth radio unavailable")

// Advertisement is the subset of a BLE advertisement the manager needs to
// match scan results against the catalog.
type Advertisement interface {
	LocalName() string
	Addr() string
	RSSI() int
	Services() []string
	Connectable() bool
}

// Radio scans for peripherals and dials connections.
type Radio interface {
	// Scan runs discovery until ctx expires, invoking h for every
	// advertisement. Returning context.DeadlineExceeded or Canceled is a
	// normal end of scan, not a failure.
	Scan(ctx context.Context, allowDup bool, h func(Advertisement)) error

	// Dial connects to the peripheral with the given address and
	// discovers its GATT profile.
	Dial(ctx context.Context, addr string) (Conn, error)

	// Close releases the adapter.
	Close() error
}

// Conn is one live peripheral connection.
type Conn interface {
	// Address returns the peripheral address the connection was dialed
	// with.
	Address() string

	// Signature describes the discovered GATT profile for adaptor
	// matching.
	Signature() adaptor.Signature

	// Subscribe registers a notification handler for a characteristic.
	// The payload slice is only valid for the duration of the callback.
	Subscribe(charUUID string, h func([]byte)) error

	// Read performs a characteristic read.
	Read(charUUID string) ([]byte, error)

	// Disconnected is closed when the link drops, however that happens.
	Disconnected() <-chan struct{}

	// Close tears the connection down.
	Close() error
}
