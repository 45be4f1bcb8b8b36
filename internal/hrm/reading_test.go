package hrm

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConstructors(t *testing.T) {
	d := Disconnected()
	assert.False(t, d.Connected())
	assert.Nil(t, d.Sample)
	assert.WithinDuration(t, time.Now().UTC(), d.Timestamp, time.Second)

	c := Connected(Sample{BPM: 72})
	require.True(t, c.Connected())
	assert.Equal(t, uint16(72), c.Sample.BPM)
}

func TestReadingJSON(t *testing.T) {
	batt := uint8(85)
	data, err := json.Marshal(Connected(Sample{BPM: 70, Battery: &batt}))
	require.NoError(t, err)
	assert.Contains(t, string(data), `"hr_state":{`)
	assert.Contains(t, string(data), `"hr":70`)
	assert.Contains(t, string(data), `"battery":85`)

	data, err = json.Marshal(Disconnected())
	require.NoError(t, err)
	assert.Contains(t, string(data), `"hr_state":null`)
}
