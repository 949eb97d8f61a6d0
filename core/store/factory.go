package store

import (
	"fmt"

	"github.com/kilianp07/wattbudget/core/factory"
)

// FileConfig configures file backed stores.
type FileConfig struct {
	Path string `json:"path"`
	Keep int    `json:"keep"`
}

// JournalConfig configures the decision journal. An empty path disables it.
type JournalConfig struct {
	Path       string `json:"path"`
	MaxSizeMB  int    `json:"max_size_mb"`
	MaxBackups int    `json:"max_backups"`
	MaxAgeDays int    `json:"max_age_days"`
}

// SetDefaults applies sane defaults.
func (c *JournalConfig) SetDefaults() {
	if c.MaxSizeMB == 0 {
		c.MaxSizeMB = 10
	}
	if c.MaxBackups == 0 {
		c.MaxBackups = 5
	}
	if c.MaxAgeDays == 0 {
		c.MaxAgeDays = 30
	}
}

var snapshotRegistry = factory.NewRegistry[SnapshotStore]()

// RegisterSnapshotStore adds a snapshot store factory identified by name.
func RegisterSnapshotStore(name string, f factory.Factory[SnapshotStore]) error {
	return snapshotRegistry.Register(name, f)
}

// NewSnapshotStore creates the store described by cfg. An empty type means
// a JSON file.
func NewSnapshotStore(cfg factory.ModuleConfig) (SnapshotStore, error) {
	if cfg.Type == "" {
		cfg.Type = "json"
	}
	return snapshotRegistry.Create(cfg)
}

// NewJournal returns a rotating journal, or NopJournal when no path is set.
func NewJournal(cfg JournalConfig) (Journal, error) {
	if cfg.Path == "" {
		return NopJournal{}, nil
	}
	cfg.SetDefaults()
	return NewRotatingJournal(cfg.Path, cfg.MaxSizeMB, cfg.MaxBackups, cfg.MaxAgeDays)
}

func decodeFile(conf map[string]any, def string) (FileConfig, error) {
	var fc FileConfig
	if err := factory.Decode(conf, &fc); err != nil {
		return fc, fmt.Errorf("decode store config: %w", err)
	}
	if fc.Path == "" {
		fc.Path = def
	}
	return fc, nil
}

func init() {
	_ = RegisterSnapshotStore("json", func(conf map[string]any) (SnapshotStore, error) {
		fc, err := decodeFile(conf, "wattbudget.json")
		if err != nil {
			return nil, err
		}
		return NewJSONFileStore(fc.Path)
	})
	_ = RegisterSnapshotStore("sqlite", func(conf map[string]any) (SnapshotStore, error) {
		fc, err := decodeFile(conf, "wattbudget.db")
		if err != nil {
			return nil, err
		}
		return NewSQLiteStore(fc.Path, fc.Keep)
	})
}
