package config

import (
	"errors"
	"io/fs"
	"log"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the overall application configuration.
type Config struct {
	Files    FilesConfig    `yaml:"files"`
	Sensors  SensorsConfig  `yaml:"sensors"`
	Outputs  OutputsConfig  `yaml:"outputs"`
	Pipeline PipelineConfig `yaml:"pipeline"`
	Dataset  DatasetConfig  `yaml:"dataset"`
	Logging  LoggingConfig  `yaml:"logging"`
	Database DatabaseConfig `yaml:"database"`
	Server   ServerConfig   `yaml:"server"`
}

// FilesConfig names the raw input files inside a session directory.
type FilesConfig struct {
	Metadata       string `yaml:"metadata"`
	Notes          string `yaml:"notes"`
	SensorLog      string `yaml:"sensor_log"`
	RewardLog      string `yaml:"reward_log"`
	FrontCam       string `yaml:"front_cam"`
	FrontCamTS     string `yaml:"front_cam_ts"`
	SceneCam       string `yaml:"scene_cam"`
	SceneCamTS     string `yaml:"scene_cam_ts"`
	FaceCam        string `yaml:"face_cam"`
	FaceCamTS      string `yaml:"face_cam_ts"`
	FFProbeCommand string `yaml:"ffprobe_command"`
}

// SensorsConfig holds the identifiers used to tag rows in the sensor log.
type SensorsConfig struct {
	Photoresistor string `yaml:"photoresistor"`
	Lick          string `yaml:"lick"`
	DistanceLeft  string `yaml:"distance_left"`
}

// OutputsConfig holds the names of the persisted per-stream artifacts.
type OutputsConfig struct {
	PreprocPrefix    string `yaml:"preproc_prefix"`
	ExpFrameTS       string `yaml:"expframe_ts"`
	Lick             string `yaml:"lick"`
	DistanceLeft     string `yaml:"dist_left"`
	Reward           string `yaml:"reward"`
	OnOffSwitches    string `yaml:"onoff_switches"`
	FrontCamTS       string `yaml:"frontcam_ts"`
	SceneCamTS       string `yaml:"scenecam_ts"`
	FaceCamTS        string `yaml:"facecam_ts"`
	FaceCamAnnotated string `yaml:"facecam_annotations"`
}

// PipelineConfig holds the policy values of the per-session derivation.
type PipelineConfig struct {
	RewardLookaheadFrames int           `yaml:"reward_lookahead_frames"`
	SwitchOffsetSeconds   *int          `yaml:"switch_offset_seconds"` // Unset means 3600; 0 is honoured
	SwitchOffset          time.Duration `yaml:"-"` // Derived from SwitchOffsetSeconds
	SwitchTimezone        string        `yaml:"switch_timezone"`
	VideoMismatchPolicy   string        `yaml:"video_mismatch_policy"`
	LickPairing           string        `yaml:"lick_pairing"`
	PrimaryCamera         string        `yaml:"primary_camera"`
}

// DatasetConfig controls dataset-level traversal.
type DatasetConfig struct {
	Root           string   `yaml:"root"`
	ExcludeDays    []string `yaml:"exclude_days"`
	OnlyDays       []string `yaml:"only_days"`
	IgnoreDirs     []string `yaml:"ignore_dirs"`
	UsePrecomputed bool     `yaml:"use_precomputed"`
}

// LoggingConfig controls the zap logger.
type LoggingConfig struct {
	Level     string `yaml:"level"`
	Encoding  string `yaml:"encoding"`
	Directory string `yaml:"directory"`
}

// DatabaseConfig holds the session catalog connection configuration.
type DatabaseConfig struct {
	Driver                 string `yaml:"driver"`
	DSN                    string `yaml:"dsn"`
	MaxOpenConns           int    `yaml:"max_open_conns"`
	MaxIdleConns           int    `yaml:"max_idle_conns"`
	ConnMaxLifetimeMinutes int    `yaml:"conn_max_lifetime_minutes"`
}

// ServerConfig holds the read API configuration.
type ServerConfig struct {
	Port            int     `yaml:"port"`
	RateLimitPerSec float64 `yaml:"rate_limit_per_sec"`
	RateLimitBurst  int     `yaml:"rate_limit_burst"`
	CacheTTLSeconds int     `yaml:"cache_ttl_seconds"`
}

// Load reads the configuration from the given path. A missing file yields
// the defaults.
func Load(path string) (*Config, error) {
	var cfg Config

	f, err := os.Open(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		log.Printf("config file %s not found; using defaults", path)
	case err != nil:
		return nil, err
	default:
		defer f.Close()
		decoder := yaml.NewDecoder(f)
		if err := decoder.Decode(&cfg); err != nil {
			return nil, err
		}
	}

	cfg.applyDefaults()
	return &cfg, nil
}

// Default returns a configuration with every default applied.
func Default() *Config {
	var cfg Config
	cfg.applyDefaults()
	return &cfg
}

func (cfg *Config) applyDefaults() {
	f := &cfg.Files
	setString(&f.Metadata, "metadata.json")
	setString(&f.Notes, "notes.txt")
	setString(&f.SensorLog, "sensor_data.csv")
	setString(&f.RewardLog, "reward.log")
	setString(&f.FrontCam, "camerafeed_0.mp4")
	setString(&f.FrontCamTS, "frameGrabber_0_stdout.txt")
	setString(&f.SceneCam, "camerafeed_1.mp4")
	setString(&f.SceneCamTS, "frameGrabber_1_stdout.txt")
	setString(&f.FaceCam, "camerafeed_2.mp4")
	setString(&f.FaceCamTS, "frameGrabber_2_stdout.txt")
	setString(&f.FFProbeCommand, "ffprobe")

	s := &cfg.Sensors
	setString(&s.Photoresistor, "photoResistor")
	setString(&s.Lick, "lickSensor")
	setString(&s.DistanceLeft, "distanceSensorLeft")

	o := &cfg.Outputs
	setString(&o.PreprocPrefix, "preproc_")
	setString(&o.ExpFrameTS, "expframe_ts")
	setString(&o.Lick, "lick")
	setString(&o.DistanceLeft, "dist_left")
	setString(&o.Reward, "reward")
	setString(&o.OnOffSwitches, "onwoff_switches")
	setString(&o.FrontCamTS, "frontcam_ts")
	setString(&o.SceneCamTS, "scenecam_ts")
	setString(&o.FaceCamTS, "facecam_ts")
	setString(&o.FaceCamAnnotated, "facecam_annotations")

	p := &cfg.Pipeline
	if p.RewardLookaheadFrames <= 0 {
		p.RewardLookaheadFrames = 10
	}
	// The ON/OFF log is written in device-local time one hour behind the
	// epoch stamps of the reward events.
	if p.SwitchOffsetSeconds == nil {
		offset := 3600
		p.SwitchOffsetSeconds = &offset
	}
	p.SwitchOffset = time.Duration(*p.SwitchOffsetSeconds) * time.Second
	setString(&p.SwitchTimezone, "Local")
	setString(&p.VideoMismatchPolicy, "align_from_zero")
	setString(&p.LickPairing, "state_machine")
	setString(&p.PrimaryCamera, "front")

	if len(cfg.Dataset.IgnoreDirs) == 0 {
		cfg.Dataset.IgnoreDirs = []string{"tobiiImgs"}
	}

	setString(&cfg.Logging.Level, "info")
	setString(&cfg.Logging.Encoding, "console")

	d := &cfg.Database
	setString(&d.Driver, "sqlite")
	setString(&d.DSN, "sessions.db")
	if d.MaxOpenConns <= 0 {
		d.MaxOpenConns = 1
	}
	if d.MaxIdleConns <= 0 {
		d.MaxIdleConns = 1
	}
	if d.ConnMaxLifetimeMinutes <= 0 {
		d.ConnMaxLifetimeMinutes = 30
	}

	srv := &cfg.Server
	if srv.Port <= 0 {
		srv.Port = 8080
	}
	if srv.RateLimitPerSec <= 0 {
		srv.RateLimitPerSec = 10
	}
	if srv.RateLimitBurst <= 0 {
		srv.RateLimitBurst = 5
	}
	if srv.CacheTTLSeconds <= 0 {
		srv.CacheTTLSeconds = 300
	}
}

func setString(field *string, def string) {
	if *field == "" {
		*field = def
	}
}

// Location resolves the configured time zone of the ON/OFF switch lines.
func (p PipelineConfig) Location() (*time.Location, error) {
	return time.LoadLocation(p.SwitchTimezone)
}
