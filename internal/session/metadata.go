package session

import (
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"behavior-session-backend/config"
	"behavior-session-backend/internal/parse"
)

// Metadata defaults applied when the sidecar is missing or leaves a field
// unset.
const (
	DefaultRewardVolume        = 40
	DefaultInterRewardInterval = 3
	DefaultDistanceLimit       = 6
	DefaultCameraFPS           = 30
	DefaultDistWindow          = 10
)

// Metadata is the JSON sidecar of a session.
type Metadata struct {
	RewardVolume        float64 `json:"rewardVolume"`
	InterRewardInterval float64 `json:"interRewardInterval"`
	DistanceLimit       float64 `json:"distanceLimit"`
	CameraFPS           int     `json:"cameraFPS"`
	StartDate           string  `json:"session_start_date"`
	StartTime           string  `json:"session_start_time"`
	DistWindow          int     `json:"dist_sensor_mean_windowsize"`
	Notes               string  `json:"notes"`
}

// ID is the session identity "<date>_<time>".
func (m Metadata) ID() string {
	return parse.SessionDir{Date: m.StartDate, Time: m.StartTime}.ID()
}

// DefaultMetadata synthesizes metadata from the session path and its notes
// file.
func DefaultMetadata(dir, notesFile string) Metadata {
	d := parse.SplitSessionDir(dir)
	m := Metadata{
		RewardVolume:        DefaultRewardVolume,
		InterRewardInterval: DefaultInterRewardInterval,
		DistanceLimit:       DefaultDistanceLimit,
		CameraFPS:           DefaultCameraFPS,
		StartDate:           d.Date,
		StartTime:           d.Time,
		DistWindow:          DefaultDistWindow,
	}
	if notes, err := os.ReadFile(filepath.Join(dir, notesFile)); err == nil {
		m.Notes = string(notes)
	}
	return m
}

// ReadMetadata loads the sidecar of the session in dir, falling back to
// DefaultMetadata when it is missing or unreadable.
func ReadMetadata(dir string, files config.FilesConfig, log *zap.Logger) Metadata {
	def := DefaultMetadata(dir, files.Notes)
	path := filepath.Join(dir, files.Metadata)

	m, err := decodeMetadata(path, def)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		log.Info("[Session] no metadata file; using defaults", zap.String("file", path))
		return def
	case err != nil:
		log.Warn("[Session] unreadable metadata file; using defaults", zap.String("file", path), zap.Error(err))
		return def
	}
	return m
}

// decodeMetadata reads path over def, so keys absent from the file keep the
// default value.
func decodeMetadata(path string, def Metadata) (Metadata, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Metadata{}, err
	}
	m := def
	if err := json.Unmarshal(data, &m); err != nil {
		return Metadata{}, err
	}
	if m.CameraFPS <= 0 {
		m.CameraFPS = DefaultCameraFPS
	}
	if m.DistWindow <= 0 {
		m.DistWindow = DefaultDistWindow
	}
	return m, nil
}
