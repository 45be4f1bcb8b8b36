// Package config loads and persists the settings file. CLI flags override
// file values at merge time in the command layer; this package only owns
// the on-disk shape.
package config

import (
	"fmt"
	"os"
	"sync"

	"github.com/mcuadros/go-defaults"
	"gopkg.in/yaml.v3"

	"hrlink/internal/catalog"
)

// DefaultPath is the settings file looked up in the working directory.
const DefaultPath = "settings.yaml"

// File is the settings file shape. Booleans are pointers so "absent" can
// be told apart from "false" when merging with CLI flags.
type File struct {
	// Sensors lists every heart-rate monitor that was accepted before.
	Sensors []catalog.Sensor `yaml:"hrm_list"`

	EnableHTTPServer *bool  `yaml:"enable_http_server,omitempty"`
	HTTPHost         string `yaml:"http_host,omitempty" default:"127.0.0.1"`
	HTTPPort         int    `yaml:"http_port,omitempty" default:"8080"`

	EnableCSVLog *bool  `yaml:"enable_csv_log,omitempty"`
	CSVFolder    string `yaml:"csv_folder,omitempty"`
}

// Load reads the settings file. A missing file yields an empty
// configuration with defaults applied, so first runs work without setup.
func Load(path string) (*File, error) {
	f := &File{}

	data, err := os.ReadFile(path)
	switch {
	case os.IsNotExist(err):
		// First run; nothing to merge.
	case err != nil:
		return nil, fmt.Errorf("failed to read settings file %q: %w", path, err)
	default:
		if err := yaml.Unmarshal(data, f); err != nil {
			return nil, fmt.Errorf("failed to parse settings file %q: %w", path, err)
		}
	}

	defaults.SetDefaults(f)
	return f, nil
}

// Save writes the settings file, pretty-printed YAML.
func (f *File) Save(path string) error {
	data, err := yaml.Marshal(f)
	if err != nil {
		return fmt.Errorf("failed to encode settings: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write settings file %q: %w", path, err)
	}
	return nil
}

// Store pairs the loaded settings with their path so the sensor list can
// be appended and persisted when a new device is accepted. Appends are
// externally serialized here; connection logic never touches the file.
type Store struct {
	mu   sync.Mutex
	path string
	file *File
}

// NewStore wraps a loaded settings file.
func NewStore(path string, file *File) *Store {
	return &Store{path: path, file: file}
}

// File returns the wrapped settings.
func (s *Store) File() *File {
	return s.file
}

// Append adds a sensor to the persisted list unless its address is
// already present, then rewrites the settings file.
func (s *Store) Append(sensor catalog.Sensor) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	mac, err := catalog.NormalizeMAC(sensor.MAC)
	if err != nil {
		return err
	}
	sensor.MAC = mac

	for _, known := range s.file.Sensors {
		if existing, err := catalog.NormalizeMAC(known.MAC); err == nil && existing == mac {
			return nil
		}
	}

	s.file.Sensors = append(s.file.Sensors, sensor)
	return s.file.Save(s.path)
}
