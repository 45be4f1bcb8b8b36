// Package adaptor turns vendor-specific notification payloads into
// normalized heart-rate samples. Each supported protocol variant is one
// Adaptor implementation; the Registry picks one per connection, either by
// a forced id or by probing the discovered GATT signature.
package adaptor

import (
	"errors"
	"fmt"
	"strings"

	"hrlink/internal/hrm"
)

// Signature describes the GATT surface of a discovered peripheral:
// advertised or discovered service UUIDs plus the characteristics found
// during profile discovery. Matching against it must be cheap and
// side-effect free.
type Signature struct {
	Services        []string
	Characteristics []string
}

// HasService reports whether the signature contains the given service UUID.
func (s Signature) HasService(uuid string) bool {
	return containsUUID(s.Services, uuid)
}

// HasCharacteristic reports whether the signature contains the given
// characteristic UUID.
func (s Signature) HasCharacteristic(uuid string) bool {
	return containsUUID(s.Characteristics, uuid)
}

// Adaptor decodes one vendor protocol variant. Decode must never block and
// must report malformed input as a *DecodeError so a single corrupt
// notification cannot tear down the connection.
type Adaptor interface {
	// ID is the stable identifier stored in the device catalog.
	ID() string

	// Matches reports whether the adaptor can drive a peripheral with the
	// given GATT signature.
	Matches(sig Signature) bool

	// MeasurementUUID is the characteristic carrying heart-rate
	// notifications.
	MeasurementUUID() string

	// BatteryUUID is the characteristic carrying the battery level, or ""
	// when the variant has none.
	BatteryUUID() string

	// Decode parses one measurement notification into a sample. The
	// returned sample never carries a battery value; the manager overlays
	// the most recent battery reading separately.
	Decode(data []byte) (hrm.Sample, error)

	// DecodeBattery parses one battery read or notification into a
	// percentage.
	DecodeBattery(data []byte) (uint8, error)
}

// DecodeError marks a malformed or unexpected notification payload.
// It is recoverable: the reading is skipped and logged, the connection
// stays up.
type DecodeError struct {
	Adaptor string
	Reason  string
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("adaptor %s: %s", e.Adaptor, e.Reason)
}

// Selection errors.
var (
	// ErrUnknownAdaptor is returned when a forced adaptor id is not
	// registered.
	ErrUnknownAdaptor = errors.New("unknown adaptor id")

	// ErrNoCompatibleAdaptor is returned when no registered adaptor
	// matches a discovered signature.
	ErrNoCompatibleAdaptor = errors.New("no compatible adaptor")

	// ErrBatteryUnsupported is returned by adaptors without a battery
	// characteristic.
	ErrBatteryUnsupported = errors.New("battery not supported")
)

// IsDecodeError reports whether err is (or wraps) a DecodeError.
func IsDecodeError(err error) bool {
	var de *DecodeError
	return errors.As(err, &de)
}

// containsUUID compares normalized forms so callers may mix dashed,
// full-length and 16-bit short UUIDs.
func containsUUID(list []string, uuid string) bool {
	want := NormalizeUUID(uuid)
	for _, u := range list {
		if NormalizeUUID(u) == want {
			return true
		}
	}
	return false
}

// bluetoothBaseSuffix is the tail of the Bluetooth SIG base UUID; 16-bit
// assigned numbers expand to 0000xxxx-0000-1000-8000-00805f9b34fb.
const bluetoothBaseSuffix = "00001000800000805f9b34fb"

// NormalizeUUID lowercases a UUID, strips dashes, and collapses full-length
// Bluetooth base UUIDs to their 16-bit short form so that "180D",
// "0000180d-0000-1000-8000-00805f9b34fb" and "180d" all compare equal.
func NormalizeUUID(uuid string) string {
	u := strings.ToLower(strings.ReplaceAll(uuid, "-", ""))
	if len(u) == 32 && strings.HasPrefix(u, "0000") && strings.HasSuffix(u, bluetoothBaseSuffix) {
		return u[4:8]
	}
	return u
}
