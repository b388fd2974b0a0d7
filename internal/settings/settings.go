// Package settings loads the ardrone configuration file and builds the
// process logger from it.
package settings

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/chronologos/ardrone/internal/atconfig"
	"github.com/chronologos/ardrone/internal/command"
	"github.com/chronologos/ardrone/internal/drone"
	"github.com/chronologos/ardrone/internal/navlink"
	"github.com/chronologos/ardrone/internal/video"
)

var ErrInvalid = errors.New("invalid settings")

type DroneSettings struct {
	Host             string        `yaml:"host"`
	CommandPort      int           `yaml:"command_port"`
	NavdataPort      int           `yaml:"navdata_port"`
	VideoPort        int           `yaml:"video_port"`
	ControlPort      int           `yaml:"control_port"`
	LocalNavdataAddr string        `yaml:"local_navdata_addr"`
	StartupDelay     time.Duration `yaml:"startup_delay"`
	HaltTimeout      time.Duration `yaml:"halt_timeout"`
}

type CommandSettings struct {
	WatchdogPeriod time.Duration `yaml:"watchdog_period"`
	Speed          float64       `yaml:"speed"`
}

type NavdataSettings struct {
	Wait time.Duration `yaml:"wait"`
}

type VideoSettings struct {
	Enabled   bool   `yaml:"enabled"`
	HD        bool   `yaml:"hd"`
	FFmpeg    string `yaml:"ffmpeg"`
	DemuxPaVE bool   `yaml:"demux_pave"`
}

type SessionSettings struct {
	SessionID     string `yaml:"session_id"`
	UserID        string `yaml:"user_id"`
	ApplicationID string `yaml:"application_id"`
}

type RelaySettings struct {
	Listen            string        `yaml:"listen"`
	PasskeyFile       string        `yaml:"passkey_file"`
	TelemetryInterval time.Duration `yaml:"telemetry_interval"`
	FrameInterval     time.Duration `yaml:"frame_interval"` // 0 disables frame relay
}

type LogSettings struct {
	Level      string `yaml:"level"`
	File       string `yaml:"file"` // empty logs to stderr
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxAgeDays int    `yaml:"max_age_days"`
	MaxBackups int    `yaml:"max_backups"`
	Compress   bool   `yaml:"compress"`
}

// Settings is the whole configuration file.
type Settings struct {
	Drone   DroneSettings      `yaml:"drone"`
	Command CommandSettings    `yaml:"command"`
	Navdata NavdataSettings    `yaml:"navdata"`
	Video   VideoSettings      `yaml:"video"`
	Session SessionSettings    `yaml:"session"`
	Startup []atconfig.Setting `yaml:"startup"` // empty selects the built-in startup
	Relay   RelaySettings      `yaml:"relay"`
	Logs    LogSettings        `yaml:"logs"`
}

// Defaults returns the settings used for anything the file leaves out.
func Defaults() Settings {
	return Settings{
		Drone: DroneSettings{
			Host:             drone.DefaultHost,
			CommandPort:      command.DefaultPort,
			NavdataPort:      navlink.DefaultNavdataPort,
			VideoPort:        video.DefaultPort,
			ControlPort:      navlink.DefaultControlPort,
			LocalNavdataAddr: fmt.Sprintf(":%d", navlink.DefaultNavdataPort),
			StartupDelay:     drone.DefaultStartupDelay,
			HaltTimeout:      drone.DefaultJoinTimeout,
		},
		Command: CommandSettings{
			WatchdogPeriod: command.DefaultWatchdogPeriod,
			Speed:          command.DefaultSpeed,
		},
		Navdata: NavdataSettings{Wait: navlink.DefaultWaitTimeout},
		Video: VideoSettings{
			Enabled:   true,
			FFmpeg:    "ffmpeg",
			DemuxPaVE: true,
		},
		Session: SessionSettings{
			SessionID:     command.DefaultSessionID,
			UserID:        command.DefaultUserID,
			ApplicationID: command.DefaultApplicationID,
		},
		Relay: RelaySettings{
			Listen:            ":7777",
			TelemetryInterval: 100 * time.Millisecond,
		},
		Logs: LogSettings{
			Level:      "info",
			MaxSizeMB:  25,
			MaxAgeDays: 7,
			MaxBackups: 5,
		},
	}
}

// Load reads path over the defaults. An empty path returns the defaults.
// Unknown keys are errors.
func Load(path string) (Settings, error) {
	s := Defaults()
	if path == "" {
		return s, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return s, fmt.Errorf("read settings: %w", err)
	}
	if err := Decode(data, &s); err != nil {
		return s, fmt.Errorf("%s: %w", path, err)
	}
	return s, nil
}

// Decode decodes YAML onto s, keeping the values of absent fields.
func Decode(data []byte, s *Settings) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(s); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("decode settings: %w", err)
	}
	return nil
}

// Validate rejects settings the channels cannot run with.
func Validate(s Settings) error {
	ports := []struct {
		name string
		v    int
	}{
		{"drone.command_port", s.Drone.CommandPort},
		{"drone.navdata_port", s.Drone.NavdataPort},
		{"drone.video_port", s.Drone.VideoPort},
		{"drone.control_port", s.Drone.ControlPort},
	}
	for _, p := range ports {
		if p.v < 1 || p.v > 65535 {
			return fmt.Errorf("%w: %s %d out of range", ErrInvalid, p.name, p.v)
		}
	}
	if strings.TrimSpace(s.Drone.Host) == "" {
		return fmt.Errorf("%w: drone.host is empty", ErrInvalid)
	}
	durations := []struct {
		name string
		v    time.Duration
	}{
		{"command.watchdog_period", s.Command.WatchdogPeriod},
		{"navdata.wait", s.Navdata.Wait},
		{"drone.halt_timeout", s.Drone.HaltTimeout},
		{"relay.telemetry_interval", s.Relay.TelemetryInterval},
	}
	for _, d := range durations {
		if d.v <= 0 {
			return fmt.Errorf("%w: %s must be positive, got %v", ErrInvalid, d.name, d.v)
		}
	}
	if s.Drone.StartupDelay < 0 || s.Relay.FrameInterval < 0 {
		return fmt.Errorf("%w: negative duration", ErrInvalid)
	}
	if math.IsNaN(s.Command.Speed) || s.Command.Speed <= 0 || s.Command.Speed > 1 {
		return fmt.Errorf("%w: command.speed %v outside (0, 1]", ErrInvalid, s.Command.Speed)
	}
	if s.Video.Enabled && s.Video.FFmpeg == "" {
		return fmt.Errorf("%w: video.ffmpeg is empty", ErrInvalid)
	}
	if _, err := ParseLevel(s.Logs.Level); err != nil {
		return err
	}
	if _, err := atconfig.ValidateAll(s.Startup); err != nil {
		return fmt.Errorf("%w: startup: %w", ErrInvalid, err)
	}
	return nil
}

// DroneConfig maps the settings onto a drone configuration.
func (s Settings) DroneConfig(logger *slog.Logger) drone.Config {
	var startup []atconfig.Setting
	if len(s.Startup) > 0 {
		startup = s.Startup
	}
	return drone.Config{
		Host:             s.Drone.Host,
		CommandPort:      s.Drone.CommandPort,
		NavdataPort:      s.Drone.NavdataPort,
		VideoPort:        s.Drone.VideoPort,
		ControlPort:      s.Drone.ControlPort,
		LocalNavdataAddr: s.Drone.LocalNavdataAddr,
		HD:               s.Video.HD,
		Speed:            s.Command.Speed,
		WatchdogPeriod:   s.Command.WatchdogPeriod,
		NavdataWait:      s.Navdata.Wait,
		Video:            s.Video.Enabled,
		FFmpeg:           s.Video.FFmpeg,
		VideoPassthrough: !s.Video.DemuxPaVE,
		SessionID:        s.Session.SessionID,
		UserID:           s.Session.UserID,
		ApplicationID:    s.Session.ApplicationID,
		Startup:          startup,
		StartupDelay:     s.Drone.StartupDelay,
		JoinTimeout:      s.Drone.HaltTimeout,
		Logger:           logger,
	}
}
