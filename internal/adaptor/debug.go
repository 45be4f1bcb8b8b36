package adaptor

import (
	"encoding/hex"

	"github.com/sirupsen/logrus"

	"hrlink/internal/hrm"
)

// Debug dumps every notification it is handed instead of decoding it.
// It never matches by probe; it is only reachable through a forced id
// (the --debug-device flag), so a normal run can never fall into it.
type Debug struct {
	logger *logrus.Logger
}

// NewDebug returns the hex-dumping diagnostic adaptor.
func NewDebug(logger *logrus.Logger) *Debug {
	if logger == nil {
		logger = logrus.New()
	}
	return &Debug{logger: logger}
}

func (a *Debug) ID() string { return "debug" }

// Matches always declines; see the type comment.
func (a *Debug) Matches(Signature) bool { return false }

// MeasurementUUID still points at the standard measurement characteristic
// so the manager has something to subscribe to on unknown hardware.
func (a *Debug) MeasurementUUID() string { return HeartRateMeasurementUUID }

func (a *Debug) BatteryUUID() string { return "" }

// Decode logs the raw payload and reports it as undecodable, so no sample
// ever reaches the hub from a debug session.
func (a *Debug) Decode(data []byte) (hrm.Sample, error) {
	a.logger.WithFields(logrus.Fields{
		"len": len(data),
		"hex": hex.EncodeToString(data),
	}).Info("Notification dump")
	return hrm.Sample{}, &DecodeError{Adaptor: a.ID(), Reason: "debug adaptor does not decode"}
}

func (a *Debug) DecodeBattery([]byte) (uint8, error) {
	return 0, ErrBatteryUnsupported
}
