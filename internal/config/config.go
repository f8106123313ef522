// Package config loads the server's JSON configuration document once at
// startup. Writing configuration back to disk is explicitly out of scope;
// this package only ever reads.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"time"
)

// Config holds every recognized top-level key. Unknown keys in the source
// document are ignored by encoding/json's default unmarshal behavior.
type Config struct {
	SyncInterval      Duration          `json:"syncInterval"`
	MaxMessageSize    int               `json:"maxMessageSize"`
	MaxUsernameLength int               `json:"maxUsernameLength"`
	MinUsernameLength int               `json:"minUsernameLength"`
	TurnLength        Duration          `json:"turnLength"`
	HeartbeatTimeout  Duration          `json:"heartbeatTimeout"`
	OverrideFramerate bool              `json:"overrideFramerate"`
	Framerate         int               `json:"framerate"`
	SystemDirectory   string            `json:"systemDirectory"`
	SaveDirectory     string            `json:"saveDirectory"`
	CoreConfig        map[string]map[string]string `json:"coreConfig"`
}

// Duration unmarshals from a JSON number of seconds, matching the
// human-written schema in spec.md §6 ("5 s", "10 s", ...).
type Duration time.Duration

func (d *Duration) UnmarshalJSON(b []byte) error {
	var secs float64
	if err := json.Unmarshal(b, &secs); err != nil {
		return err
	}
	*d = Duration(secs * float64(time.Second))
	return nil
}

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).Seconds())
}

// Default returns the configuration spec.md §6 specifies when no document
// is supplied or a key is absent.
func Default() Config {
	home, _ := os.UserHomeDir()
	return Config{
		SyncInterval:      Duration(5 * time.Second),
		MaxMessageSize:    100,
		MaxUsernameLength: 15,
		MinUsernameLength: 3,
		TurnLength:        Duration(10 * time.Second),
		HeartbeatTimeout:  Duration(3 * time.Second),
		OverrideFramerate: false,
		Framerate:         60,
		SystemDirectory:   home + "/.letsplay/system",
		SaveDirectory:     home + "/.letsplay/save",
		CoreConfig:        map[string]map[string]string{},
	}
}

// Load reads and decodes the JSON document at path, overriding Default()
// field-by-field with whatever keys are present. A missing file is not an
// error: Default() is returned as-is, matching the "config writer is
// outside the core" stance — absence of a writer implies absence of a file
// is a normal first-run state.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return cfg, nil
	}
	if err != nil {
		return cfg, fmt.Errorf("read config %q: %w", path, err)
	}
	if err := json.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %q: %w", path, err)
	}
	return cfg, nil
}

// CoreSetting returns the opaque per-core value for key, and whether it was
// present at all.
func (c Config) CoreSetting(core, key string) (string, bool) {
	m, ok := c.CoreConfig[core]
	if !ok {
		return "", false
	}
	v, ok := m[key]
	return v, ok
}
