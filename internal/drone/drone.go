// Package drone binds the command, navdata and video channels to one shared
// drone state and manages their lifecycle.
package drone

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/chronologos/ardrone/internal/atconfig"
	"github.com/chronologos/ardrone/internal/command"
	"github.com/chronologos/ardrone/internal/dronestate"
	"github.com/chronologos/ardrone/internal/navlink"
	"github.com/chronologos/ardrone/internal/video"
)

const (
	DefaultHost         = "192.168.1.1"
	DefaultJoinTimeout  = 1 * time.Second
	DefaultStartupDelay = 1 * time.Second
)

// Config holds everything needed to connect to a drone. Zero values select
// defaults, except StartupDelay where zero means no delay.
type Config struct {
	Host             string
	CommandPort      int
	NavdataPort      int
	VideoPort        int
	ControlPort      int
	LocalNavdataAddr string // local bind for navdata, ":5554" by default

	HD             bool
	Speed          float64
	WatchdogPeriod time.Duration
	NavdataWait    time.Duration

	Video            bool   // run the video channel
	FFmpeg           string // decoder binary
	VideoPassthrough bool   // forward the transport to the decoder verbatim

	SessionID     string
	UserID        string
	ApplicationID string

	// Startup is sent before the channels start. Nil selects
	// DefaultStartup(HD).
	Startup      []atconfig.Setting
	StartupDelay time.Duration
	JoinTimeout  time.Duration

	Logger *slog.Logger
}

func (c *Config) applyDefaults() {
	if c.Host == "" {
		c.Host = DefaultHost
	}
	if c.CommandPort == 0 {
		c.CommandPort = command.DefaultPort
	}
	if c.NavdataPort == 0 {
		c.NavdataPort = navlink.DefaultNavdataPort
	}
	if c.VideoPort == 0 {
		c.VideoPort = video.DefaultPort
	}
	if c.ControlPort == 0 {
		c.ControlPort = navlink.DefaultControlPort
	}
	if c.FFmpeg == "" {
		c.FFmpeg = "ffmpeg"
	}
	if c.Startup == nil {
		c.Startup = DefaultStartup(c.HD)
	}
	if c.JoinTimeout <= 0 {
		c.JoinTimeout = DefaultJoinTimeout
	}
	if c.Logger == nil {
		c.Logger = slog.New(slog.DiscardHandler)
	}
}

// ImageSize returns the decoded frame size for the configured resolution.
func (c Config) ImageSize() (height, width int) {
	if c.HD {
		return 720, 1280
	}
	return 360, 640
}

// DefaultStartup is the configuration sent on connect: session identity,
// video stream parameters, demo navdata and an altitude ceiling of 20 m.
func DefaultStartup(hd bool) []atconfig.Setting {
	codec := atconfig.CodecH264360p
	if hd {
		codec = atconfig.CodecH264720p
	}
	return []atconfig.Setting{
		{Key: atconfig.KeySessionID, Value: command.DefaultSessionID},
		{Key: atconfig.KeyProfileID, Value: command.DefaultUserID},
		{Key: atconfig.KeyApplicationID, Value: command.DefaultApplicationID},
		{Key: atconfig.KeyBitrateControlMode, Value: 1},
		{Key: atconfig.KeyVideoChannel, Value: 1},
		{Key: atconfig.KeyBitrate, Value: 500},
		{Key: atconfig.KeyMaxBitrate, Value: 500},
		{Key: atconfig.KeyCodecFPS, Value: 30},
		{Key: atconfig.KeyVideoCodec, Value: codec},
		{Key: atconfig.KeyNavdataDemo, Value: true},
		{Key: atconfig.KeyAltitudeMax, Value: 20000},
	}
}

// deps are the pieces tests replace.
type deps struct {
	navOpener  navlink.Opener
	newDecoder func(height, width int) (video.Decoder, error)
}

func defaultDeps(cfg Config) deps {
	return deps{
		navOpener: navlink.NewOpener(navlink.Endpoint{
			Host:        cfg.Host,
			NavdataPort: cfg.NavdataPort,
			ControlPort: cfg.ControlPort,
			LocalAddr:   cfg.LocalNavdataAddr,
		}),
		newDecoder: func(height, width int) (video.Decoder, error) {
			return video.StartFFmpeg(cfg.FFmpeg, height, width, cfg.Logger)
		},
	}
}

// Drone is a connected drone. The embedded command channel provides the
// actions; State holds the latest telemetry and image.
type Drone struct {
	*command.Channel

	State *dronestate.State

	cfg    Config
	log    *slog.Logger
	nav    *navlink.Channel
	vid    *video.Channel
	cancel context.CancelFunc
	wg     sync.WaitGroup

	videoDone chan struct{}
	videoErr  error

	haltOnce sync.Once
}

// Connect opens the command channel, sends the startup configuration and
// starts the navdata and video channels. The channels run until Halt or
// until ctx is cancelled.
func Connect(ctx context.Context, cfg Config) (*Drone, error) {
	cfg.applyDefaults()
	return connect(ctx, cfg, defaultDeps(cfg))
}

func connect(ctx context.Context, cfg Config, d deps) (*Drone, error) {
	log := cfg.Logger.With("component", "drone")

	cmdAddr := net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.CommandPort))
	cmd, err := command.Dial(cmdAddr, command.Config{
		WatchdogPeriod: cfg.WatchdogPeriod,
		Speed:          cfg.Speed,
		SessionID:      cfg.SessionID,
		UserID:         cfg.UserID,
		ApplicationID:  cfg.ApplicationID,
		Logger:         cfg.Logger,
	})
	if err != nil {
		return nil, err
	}
	if err := cmd.SendConfig(cfg.Startup...); err != nil {
		cmd.Close()
		return nil, fmt.Errorf("startup config: %w", err)
	}
	log.Info("startup config sent", "settings", len(cfg.Startup), "host", cfg.Host)

	if cfg.StartupDelay > 0 {
		select {
		case <-time.After(cfg.StartupDelay):
		case <-ctx.Done():
			cmd.Close()
			return nil, ctx.Err()
		}
	}

	height, width := cfg.ImageSize()
	runCtx, cancel := context.WithCancel(ctx)
	dr := &Drone{
		Channel:   cmd,
		State:     dronestate.New(height, width),
		cfg:       cfg,
		log:       log,
		cancel:    cancel,
		videoDone: make(chan struct{}),
	}

	dr.nav = navlink.New(d.navOpener, dr.State, navlink.Config{
		WaitTimeout: cfg.NavdataWait,
		Logger:      cfg.Logger,
	})
	dr.wg.Add(1)
	go func() {
		defer dr.wg.Done()
		dr.nav.Run(runCtx)
	}()

	if !cfg.Video {
		dr.videoErr = errVideoDisabled
		close(dr.videoDone)
		return dr, nil
	}
	dec, err := d.newDecoder(height, width)
	if err != nil {
		// Flying without video is still useful.
		log.Error("video decoder failed to start", "err", err)
		dr.videoErr = fmt.Errorf("%w: %w", video.ErrStreamEnded, err)
		close(dr.videoDone)
		return dr, nil
	}
	dr.vid = video.New(dec, dr.State, video.Config{
		Addr:        net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.VideoPort)),
		Height:      height,
		Width:       width,
		Passthrough: cfg.VideoPassthrough,
		Logger:      cfg.Logger,
	})
	dr.wg.Add(1)
	go func() {
		defer dr.wg.Done()
		err := dr.vid.Run(runCtx)
		if !errors.Is(err, context.Canceled) {
			log.Warn("video channel down", "err", err)
		}
		dr.videoErr = err
		close(dr.videoDone)
	}()
	return dr, nil
}

var errVideoDisabled = errors.New("video disabled")

// VideoDone is closed when the video channel stops. Navdata and commands
// keep working after it closes.
func (dr *Drone) VideoDone() <-chan struct{} { return dr.videoDone }

// VideoErr returns why video stopped, or nil while it is running.
func (dr *Drone) VideoErr() error {
	select {
	case <-dr.videoDone:
		return dr.videoErr
	default:
		return nil
	}
}

// NavStats returns the navdata channel's counters.
func (dr *Drone) NavStats() navlink.Stats { return dr.nav.Stats() }

// VideoStats returns the video channel's counters. It is the zero value when
// video is not running.
func (dr *Drone) VideoStats() video.Stats {
	if dr.vid == nil {
		return video.Stats{}
	}
	return dr.vid.Stats()
}

// Halt stops the channels and releases every socket and process. It does not
// land the drone. Goroutines that have not stopped within JoinTimeout are
// abandoned.
func (dr *Drone) Halt() error {
	var err error
	dr.haltOnce.Do(func() {
		dr.Channel.StopWatchdog()
		dr.cancel()

		joined := make(chan struct{})
		go func() {
			dr.wg.Wait()
			close(joined)
		}()
		select {
		case <-joined:
		case <-time.After(dr.cfg.JoinTimeout):
			dr.log.Warn("channels did not stop in time", "timeout", dr.cfg.JoinTimeout)
		}

		err = dr.Channel.Close()
		dr.log.Info("halted")
	})
	return err
}
