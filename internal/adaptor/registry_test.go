package adaptor

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hrlink/internal/hrm"
)

// fakeAdaptor is a probe-controllable adaptor for registry tests.
type fakeAdaptor struct {
	id      string
	matches bool
}

func (f *fakeAdaptor) ID() string                          { return f.id }
func (f *fakeAdaptor) Matches(Signature) bool              { return f.matches }
func (f *fakeAdaptor) MeasurementUUID() string             { return HeartRateMeasurementUUID }
func (f *fakeAdaptor) BatteryUUID() string                 { return "" }
func (f *fakeAdaptor) Decode([]byte) (hrm.Sample, error)   { return hrm.Sample{}, nil }
func (f *fakeAdaptor) DecodeBattery([]byte) (uint8, error) { return 0, ErrBatteryUnsupported }

func TestSelectForcedIDWins(t *testing.T) {
	// The forced adaptor does not match the signature; it must still win.
	forced := &fakeAdaptor{id: "vendor-x", matches: false}
	probed := &fakeAdaptor{id: "probed", matches: true}
	r := NewRegistry(probed, forced)

	a, err := r.Select(Signature{}, "vendor-x")
	require.NoError(t, err)
	assert.Equal(t, "vendor-x", a.ID())
}

func TestSelectForcedIDUnknown(t *testing.T) {
	r := NewRegistry(NewStandard())

	_, err := r.Select(Signature{Services: []string{"180d"}}, "no-such-adaptor")
	assert.ErrorIs(t, err, ErrUnknownAdaptor)
}

func TestSelectProbesInRegistrationOrder(t *testing.T) {
	first := &fakeAdaptor{id: "first", matches: true}
	second := &fakeAdaptor{id: "second", matches: true}
	r := NewRegistry(first, second)

	a, err := r.Select(Signature{}, "")
	require.NoError(t, err)
	assert.Equal(t, "first", a.ID())

	// Removing the override falls back to probe order: make the first
	// decline and the second must win.
	first.matches = false
	a, err = r.Select(Signature{}, "")
	require.NoError(t, err)
	assert.Equal(t, "second", a.ID())
}

func TestSelectNoCompatibleAdaptor(t *testing.T) {
	r := NewRegistry(&fakeAdaptor{id: "a"}, &fakeAdaptor{id: "b"})

	_, err := r.Select(Signature{Services: []string{"180f"}}, "")
	assert.ErrorIs(t, err, ErrNoCompatibleAdaptor)
}

func TestDebugAdaptorIsForcedOnly(t *testing.T) {
	r := NewRegistry(NewStandard(), NewDebug(nil))

	sig := Signature{Services: []string{"180d"}, Characteristics: []string{"2a37"}}
	a, err := r.Select(sig, "")
	require.NoError(t, err)
	assert.Equal(t, "standard", a.ID(), "debug must never win a probe")

	a, err = r.Select(sig, "debug")
	require.NoError(t, err)
	assert.Equal(t, "debug", a.ID())

	_, err = a.Decode([]byte{0x00, 0x42})
	assert.True(t, IsDecodeError(err), "debug sessions never publish samples")
}

func TestRegistryIDs(t *testing.T) {
	r := NewRegistry(NewStandard(), NewDebug(nil))
	assert.Equal(t, []string{"standard", "debug"}, r.IDs())
}
