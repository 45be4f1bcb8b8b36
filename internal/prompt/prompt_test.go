package prompt

import (
	"bytes"
	"context"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hrlink/internal/catalog"
	"hrlink/scanner"
)

func testCandidates() []scanner.Candidate {
	return []scanner.Candidate{
		{Name: "Polar H10", Addr: "aa:bb:cc:dd:ee:ff", RSSI: -48, Known: true,
			Identity: catalog.Sensor{Name: "Chest strap", MAC: "aa:bb:cc:dd:ee:ff"}},
		{Name: "Rhythm24", Addr: "11:22:33:44:55:66", RSSI: -70},
	}
}

func newTestChooser(input string) (*Chooser, *bytes.Buffer) {
	l := logrus.New()
	l.SetLevel(logrus.PanicLevel)
	out := &bytes.Buffer{}
	return NewWithIO(l, strings.NewReader(input), out), out
}

func TestChooseByNumber(t *testing.T) {
	c, out := newTestChooser("2\n")

	cand, ok, err := c.Choose(context.Background(), testCandidates(), 0)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "11:22:33:44:55:66", cand.Addr)

	rendered := out.String()
	assert.Contains(t, rendered, "[1]")
	assert.Contains(t, rendered, "Chest strap", "catalog name wins over the advertised one")
	assert.Contains(t, rendered, "Rhythm24")
}

func TestChooseRescanRequest(t *testing.T) {
	c, _ := newTestChooser("r\n")

	_, ok, err := c.Choose(context.Background(), testCandidates(), 0)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestChooseRepromptsOnGarbage(t *testing.T) {
	c, out := newTestChooser("nine\n99\n1\n")

	cand, ok, err := c.Choose(context.Background(), testCandidates(), 0)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "aa:bb:cc:dd:ee:ff", cand.Addr)
	assert.Contains(t, out.String(), "between 1 and 2")
}

func TestChooseTimesOutIntoRescan(t *testing.T) {
	// A reader that never delivers anything.
	r, _ := io.Pipe()
	l := logrus.New()
	l.SetLevel(logrus.PanicLevel)
	c := NewWithIO(l, r, &bytes.Buffer{})

	start := time.Now()
	_, ok, err := c.Choose(context.Background(), testCandidates(), 20*time.Millisecond)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Less(t, time.Since(start), time.Second)
}

func TestChooseStopsOnContextCancel(t *testing.T) {
	r, _ := io.Pipe()
	l := logrus.New()
	l.SetLevel(logrus.PanicLevel)
	c := NewWithIO(l, r, &bytes.Buffer{})

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	_, ok, err := c.Choose(ctx, testCandidates(), 0)
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, ok)
}

func TestChooseEOFDisablesInteractivity(t *testing.T) {
	c, _ := newTestChooser("")

	_, ok, err := c.Choose(context.Background(), testCandidates(), 0)
	require.NoError(t, err)
	assert.False(t, ok)

	// Subsequent calls decline immediately instead of blocking.
	_, ok, err = c.Choose(context.Background(), testCandidates(), 0)
	require.NoError(t, err)
	assert.False(t, ok)
}
