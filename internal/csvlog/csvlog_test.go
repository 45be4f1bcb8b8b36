package csvlog

import (
	"encoding/csv"
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hrlink/internal/hrm"
)

func testLogger() *logrus.Logger {
	l := logrus.New()
	l.SetLevel(logrus.PanicLevel)
	return l
}

func connectedReading(bpm uint16, battery *uint8) hrm.Reading {
	return hrm.Connected(hrm.Sample{BPM: bpm, Battery: battery})
}

func readLogFile(t *testing.T, folder string) [][]string {
	t.Helper()
	matches, err := filepath.Glob(filepath.Join(folder, "heartrate-log-*.csv"))
	require.NoError(t, err)
	require.Len(t, matches, 1)
	f, err := os.Open(matches[0])
	require.NoError(t, err)
	defer f.Close()
	rows, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	return rows
}

func TestFlushWritesHeaderOnce(t *testing.T) {
	dir := t.TempDir()
	l := New(testLogger(), dir)

	batt := uint8(88)
	require.NoError(t, l.Write(connectedReading(61, nil)))
	require.NoError(t, l.Write(connectedReading(62, &batt)))
	require.NoError(t, l.Flush())

	require.NoError(t, l.Write(connectedReading(63, &batt)))
	require.NoError(t, l.Close())

	rows := readLogFile(t, dir)
	require.Len(t, rows, 4)
	assert.Equal(t, []string{"timestamp", "heart_rate", "contact", "battery"}, rows[0])
	assert.Equal(t, "61", rows[1][1])
	assert.Equal(t, "", rows[1][3])
	assert.Equal(t, "62", rows[2][1])
	assert.Equal(t, "88", rows[2][3])
	assert.Equal(t, "63", rows[3][1])
}

func TestDisconnectedReadingsAreSkipped(t *testing.T) {
	dir := t.TempDir()
	l := New(testLogger(), dir)

	require.NoError(t, l.Write(hrm.Disconnected()))
	require.NoError(t, l.Write(connectedReading(70, nil)))
	require.NoError(t, l.Write(hrm.Disconnected()))
	require.NoError(t, l.Close())

	rows := readLogFile(t, dir)
	require.Len(t, rows, 2)
	assert.Equal(t, "70", rows[1][1])
}

func TestNoFileWithoutData(t *testing.T) {
	dir := t.TempDir()
	l := New(testLogger(), dir)

	require.NoError(t, l.Flush())
	require.NoError(t, l.Close())

	matches, err := filepath.Glob(filepath.Join(dir, "*.csv"))
	require.NoError(t, err)
	assert.Empty(t, matches)
}

func TestContactColumn(t *testing.T) {
	dir := t.TempDir()
	l := New(testLogger(), dir)

	yes := true
	require.NoError(t, l.Write(hrm.Connected(hrm.Sample{BPM: 75, Contact: &yes})))
	require.NoError(t, l.Close())

	rows := readLogFile(t, dir)
	require.Len(t, rows, 2)
	assert.Equal(t, "true", rows[1][2])
}

func TestCreatesMissingFolder(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "logs", "hr")
	l := New(testLogger(), dir)

	require.NoError(t, l.Write(connectedReading(80, nil)))
	require.NoError(t, l.Close())

	rows := readLogFile(t, dir)
	require.Len(t, rows, 2)
}
