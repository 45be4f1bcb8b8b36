package adaptor

import (
	"encoding/binary"

	"hrlink/internal/hrm"
)

// GATT assigned numbers for the standard heart-rate profile.
const (
	HeartRateServiceUUID     = "180d"
	HeartRateMeasurementUUID = "2a37"
	BatteryLevelUUID         = "2a19"
)

// Heart Rate Measurement flags byte (Bluetooth SIG GSS).
const (
	flagHR16Bit         = 0x01 // heart rate value is uint16
	flagContactDetected = 0x02
	flagContactSupport  = 0x04
	flagEnergyExpended  = 0x08
	flagRRInterval      = 0x10
)

// Standard decodes the Bluetooth SIG heart-rate service notification
// format: a flags byte, an 8- or 16-bit heart-rate field, an optional
// energy-expended field and an optional RR-interval list (ignored).
type Standard struct{}

// NewStandard returns the standard heart-rate service adaptor.
func NewStandard() *Standard {
	return &Standard{}
}

func (a *Standard) ID() string { return "standard" }

func (a *Standard) MeasurementUUID() string { return HeartRateMeasurementUUID }

func (a *Standard) BatteryUUID() string { return BatteryLevelUUID }

// Matches accepts any peripheral exposing the heart-rate service with a
// measurement characteristic.
func (a *Standard) Matches(sig Signature) bool {
	return sig.HasService(HeartRateServiceUUID) && sig.HasCharacteristic(HeartRateMeasurementUUID)
}

func (a *Standard) Decode(data []byte) (hrm.Sample, error) {
	if len(data) < 2 {
		return hrm.Sample{}, &DecodeError{Adaptor: a.ID(), Reason: "notification shorter than flags + heart rate"}
	}

	flags := data[0]
	var sample hrm.Sample

	if flags&flagHR16Bit != 0 {
		if len(data) < 3 {
			return hrm.Sample{}, &DecodeError{Adaptor: a.ID(), Reason: "16-bit heart rate field truncated"}
		}
		sample.BPM = binary.LittleEndian.Uint16(data[1:3])
	} else {
		sample.BPM = uint16(data[1])
	}

	// The contact bit is only meaningful when the sensor declares contact
	// support; otherwise the field stays absent.
	if flags&flagContactSupport != 0 {
		contact := flags&flagContactDetected != 0
		sample.Contact = &contact
	}

	return sample, nil
}

func (a *Standard) DecodeBattery(data []byte) (uint8, error) {
	if len(data) < 1 {
		return 0, &DecodeError{Adaptor: a.ID(), Reason: "empty battery level payload"}
	}
	if data[0] > 100 {
		return 0, &DecodeError{Adaptor: a.ID(), Reason: "battery level above 100%"}
	}
	return data[0], nil
}
