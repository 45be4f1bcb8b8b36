package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hrlink/internal/catalog"
)

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	f, err := Load(filepath.Join(t.TempDir(), "settings.yaml"))
	require.NoError(t, err)

	assert.Empty(t, f.Sensors)
	assert.Nil(t, f.EnableHTTPServer)
	assert.Equal(t, "127.0.0.1", f.HTTPHost)
	assert.Equal(t, 8080, f.HTTPPort)
}

func TestLoadParsesSettings(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
hrm_list:
  - name: Chest strap
    mac: "AA:BB:CC:DD:EE:FF"
    adaptor_id: standard
enable_http_server: true
http_port: 9000
enable_csv_log: false
csv_folder: /var/log/hr
`), 0o644))

	f, err := Load(path)
	require.NoError(t, err)

	require.Len(t, f.Sensors, 1)
	assert.Equal(t, "Chest strap", f.Sensors[0].Name)
	assert.Equal(t, "standard", f.Sensors[0].AdaptorID)

	require.NotNil(t, f.EnableHTTPServer)
	assert.True(t, *f.EnableHTTPServer)
	assert.Equal(t, 9000, f.HTTPPort)
	assert.Equal(t, "127.0.0.1", f.HTTPHost, "defaults still fill unset fields")

	require.NotNil(t, f.EnableCSVLog)
	assert.False(t, *f.EnableCSVLog)
	assert.Equal(t, "/var/log/hr", f.CSVFolder)
}

func TestLoadRejectsMalformedYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.yaml")
	require.NoError(t, os.WriteFile(path, []byte("hrm_list: {not a list"), 0o644))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestStoreAppendPersistsAndDeduplicates(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.yaml")
	f, err := Load(path)
	require.NoError(t, err)
	store := NewStore(path, f)

	require.NoError(t, store.Append(catalog.Sensor{Name: "new", MAC: "AA:BB:CC:DD:EE:FF", AdaptorID: "standard"}))
	require.NoError(t, store.Append(catalog.Sensor{Name: "dup", MAC: "aa-bb-cc-dd-ee-ff"}))

	reloaded, err := Load(path)
	require.NoError(t, err)
	require.Len(t, reloaded.Sensors, 1)
	assert.Equal(t, "new", reloaded.Sensors[0].Name)
	assert.Equal(t, "aa:bb:cc:dd:ee:ff", reloaded.Sensors[0].MAC)

	assert.Error(t, store.Append(catalog.Sensor{Name: "bad", MAC: "nope"}))
}
