// thresholds.go loads the threshold profile defaults file and optionally
// watches it for changes. The file is plain YAML keyed by profile name; it is
// converted to the JSON-tagged models.ThresholdSet before seeding, so the YAML
// field names here are independent of the stored format.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"

	"github.com/audit-portal/audit-portal/internal/db/models"
	"github.com/audit-portal/audit-portal/internal/safego"
)

// thresholdSetYAML is the on-disk form of one threshold profile.
type thresholdSetYAML struct {
	CPU struct {
		ApprovedBrands []string `yaml:"approved_brands"`
		MinSpeedGHz    float64  `yaml:"min_speed_ghz"`
	} `yaml:"cpu"`
	RAM struct {
		MinGB float64 `yaml:"min_gb"`
	} `yaml:"ram"`
	Storage struct {
		AllowedTypes  []string `yaml:"allowed_types"`
		MinCapacityGB float64  `yaml:"min_capacity_gb"`
	} `yaml:"storage"`
	OS struct {
		ApprovedNames []string `yaml:"approved_names"`
		MinVersion    string   `yaml:"min_version"`
	} `yaml:"os"`
	Network struct {
		MinDownloadMbps  map[string]float64 `yaml:"min_download_mbps"`
		MinUploadMbps    map[string]float64 `yaml:"min_upload_mbps"`
		DefaultAttention string             `yaml:"default_attention"`
	} `yaml:"network"`
}

func (y *thresholdSetYAML) toModel() *models.ThresholdSet {
	set := &models.ThresholdSet{}
	set.CPU.ApprovedBrands = y.CPU.ApprovedBrands
	set.CPU.MinSpeedGHz = y.CPU.MinSpeedGHz
	set.RAM.MinGB = y.RAM.MinGB
	set.Storage.AllowedTypes = y.Storage.AllowedTypes
	set.Storage.MinCapacityGB = y.Storage.MinCapacityGB
	set.OS.ApprovedNames = y.OS.ApprovedNames
	set.OS.MinVersion = y.OS.MinVersion
	set.Network.MinDownloadMbps = y.Network.MinDownloadMbps
	set.Network.MinUploadMbps = y.Network.MinUploadMbps
	set.Network.DefaultAttention = y.Network.DefaultAttention
	return set
}

// LoadThresholdDefaults parses a profile defaults file. The result maps
// profile name to rule set.
func LoadThresholdDefaults(path string) (map[string]*models.ThresholdSet, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read threshold defaults: %w", err)
	}

	var raw map[string]*thresholdSetYAML
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse threshold defaults: %w", err)
	}

	profiles := make(map[string]*models.ThresholdSet, len(raw))
	for name, set := range raw {
		if name == "" || set == nil {
			continue
		}
		profiles[name] = set.toModel()
	}
	if len(profiles) == 0 {
		return nil, fmt.Errorf("threshold defaults file %s defines no profiles", path)
	}
	return profiles, nil
}

// ThresholdWatcher reloads the defaults file when it changes on disk and
// hands the parsed profiles to a callback. Editors typically replace the file
// rather than write it in place, so the watch is on the parent directory.
type ThresholdWatcher struct {
	path     string
	onReload func(map[string]*models.ThresholdSet)
	logger   *slog.Logger
	watcher  *fsnotify.Watcher
	stopChan chan struct{}
}

// NewThresholdWatcher creates a watcher for the given defaults file.
func NewThresholdWatcher(path string, onReload func(map[string]*models.ThresholdSet), logger *slog.Logger) (*ThresholdWatcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}
	if err := w.Add(filepath.Dir(path)); err != nil {
		w.Close()
		return nil, fmt.Errorf("failed to watch %s: %w", filepath.Dir(path), err)
	}
	return &ThresholdWatcher{
		path:     path,
		onReload: onReload,
		logger:   logger,
		watcher:  w,
		stopChan: make(chan struct{}),
	}, nil
}

// Start begins watching in a background goroutine.
func (t *ThresholdWatcher) Start() {
	t.logger.Info("starting threshold defaults watcher", "path", t.path)
	safego.Go(func() {
		t.run()
	})
}

// Stop terminates the watcher.
func (t *ThresholdWatcher) Stop() {
	close(t.stopChan)
	t.watcher.Close()
}

func (t *ThresholdWatcher) run() {
	for {
		select {
		case <-t.stopChan:
			return
		case event, ok := <-t.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != filepath.Clean(t.path) {
				continue
			}
			if !event.Op.Has(fsnotify.Write) && !event.Op.Has(fsnotify.Create) {
				continue
			}
			profiles, err := LoadThresholdDefaults(t.path)
			if err != nil {
				t.logger.Error("failed to reload threshold defaults", "path", t.path, "error", err)
				continue
			}
			t.logger.Info("threshold defaults reloaded", "path", t.path, "profiles", len(profiles))
			t.onReload(profiles)
		case err, ok := <-t.watcher.Errors:
			if !ok {
				return
			}
			t.logger.Error("threshold defaults watcher error", "error", err)
		}
	}
}
