package adaptor

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStandardDecode(t *testing.T) {
	a := NewStandard()

	boolPtr := func(b bool) *bool { return &b }

	tests := []struct {
		name        string
		data        []byte
		wantBPM     uint16
		wantContact *bool
		wantErr     bool
	}{
		{
			name:    "8-bit heart rate, no contact support",
			data:    []byte{0x00, 72},
			wantBPM: 72,
		},
		{
			name:    "16-bit heart rate",
			data:    []byte{0x01, 0x2c, 0x01}, // 300 bpm little-endian
			wantBPM: 300,
		},
		{
			name:        "contact supported and detected",
			data:        []byte{0x06, 65},
			wantBPM:     65,
			wantContact: boolPtr(true),
		},
		{
			name:        "contact supported, skin contact lost",
			data:        []byte{0x04, 0},
			wantBPM:     0,
			wantContact: boolPtr(false),
		},
		{
			name:    "energy expended and RR intervals present are ignored",
			data:    []byte{0x18, 80, 0x10, 0x00, 0x40, 0x02},
			wantBPM: 80,
		},
		{
			name:    "empty payload",
			data:    nil,
			wantErr: true,
		},
		{
			name:    "flags only",
			data:    []byte{0x00},
			wantErr: true,
		},
		{
			name:    "16-bit flag with truncated value",
			data:    []byte{0x01, 0x50},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sample, err := a.Decode(tt.data)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, IsDecodeError(err), "malformed input must be a DecodeError")
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantBPM, sample.BPM)
			assert.Equal(t, tt.wantContact, sample.Contact)
			assert.Nil(t, sample.Battery, "decode never sets battery; the manager overlays it")
		})
	}
}

func TestStandardDecodeBattery(t *testing.T) {
	a := NewStandard()

	pct, err := a.DecodeBattery([]byte{87})
	require.NoError(t, err)
	assert.Equal(t, uint8(87), pct)

	_, err = a.DecodeBattery(nil)
	assert.True(t, IsDecodeError(err))

	_, err = a.DecodeBattery([]byte{101})
	assert.True(t, IsDecodeError(err))
}

func TestStandardMatches(t *testing.T) {
	a := NewStandard()

	assert.True(t, a.Matches(Signature{
		Services:        []string{"0000180D-0000-1000-8000-00805F9B34FB"},
		Characteristics: []string{"2a37", "2a19"},
	}))

	assert.False(t, a.Matches(Signature{
		Services:        []string{"180f"},
		Characteristics: []string{"2a19"},
	}), "battery-only peripheral must not match")

	assert.False(t, a.Matches(Signature{
		Services: []string{"180d"},
	}), "heart-rate service without measurement characteristic must not match")
}

func TestNormalizeUUID(t *testing.T) {
	assert.Equal(t, "180d", NormalizeUUID("180D"))
	assert.Equal(t, "180d", NormalizeUUID("0000180d-0000-1000-8000-00805f9b34fb"))
	assert.Equal(t, "180d", NormalizeUUID("0000180D00001000800000805F9B34FB"))
	// Vendor UUIDs outside the Bluetooth base stay full length.
	assert.Equal(t, "6e400001b5a3f393e0a9e50e24dcca9e", NormalizeUUID("6E400001-B5A3-F393-E0A9-E50E24DCCA9E"))
}
