package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/chronologos/ardrone/internal/settings"
	"github.com/chronologos/ardrone/internal/version"
)

// globalFlags holds double-dash flags parsed from os.Args before dispatch.
// rest contains the remaining arguments with global flags stripped.
type globalFlags struct {
	version bool
	config  string
	host    string
	noVideo bool
	hd      bool
	verbose bool
	rest    []string
}

// parseGlobalFlags extracts double-dash flags from args. Supports --flag and
// --flag=value forms.
func parseGlobalFlags(args []string) globalFlags {
	var g globalFlags
	for i := 0; i < len(args); i++ {
		arg := args[i]
		switch {
		case arg == "--version":
			g.version = true
		case arg == "--no-video":
			g.noVideo = true
		case arg == "--hd":
			g.hd = true
		case arg == "--verbose":
			g.verbose = true
		case arg == "--config" && i+1 < len(args):
			i++
			g.config = args[i]
		case strings.HasPrefix(arg, "--config="):
			g.config, _ = strings.CutPrefix(arg, "--config=")
		case arg == "--host" && i+1 < len(args):
			i++
			g.host = args[i]
		case strings.HasPrefix(arg, "--host="):
			g.host, _ = strings.CutPrefix(arg, "--host=")
		default:
			g.rest = append(g.rest, arg)
		}
	}
	return g
}

// loadSettings reads the config file and applies the global flag overrides.
func (g globalFlags) loadSettings() (settings.Settings, error) {
	s, err := settings.Load(g.config)
	if err != nil {
		return s, err
	}
	if g.host != "" {
		s.Drone.Host = g.host
	}
	if g.noVideo {
		s.Video.Enabled = false
	}
	if g.hd {
		s.Video.HD = true
	}
	if g.verbose {
		s.Logs.Level = "debug"
	}
	return s, settings.Validate(s)
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: ardrone [global flags] <command> [flags]")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "commands:")
	fmt.Fprintln(os.Stderr, "  fly                    fly from the keyboard")
	fmt.Fprintln(os.Stderr, "  telemetry              print navdata as it arrives")
	fmt.Fprintln(os.Stderr, "  relay                  serve telemetry and commands over QUIC")
	fmt.Fprintln(os.Stderr, "  watch -k <hex> <addr>  follow a relay")
	fmt.Fprintln(os.Stderr, "  version                print version and exit")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "global flags:")
	fmt.Fprintln(os.Stderr, "  --config <path>        YAML settings file")
	fmt.Fprintln(os.Stderr, "  --host <addr>          drone address (default: 192.168.1.1)")
	fmt.Fprintln(os.Stderr, "  --no-video             do not start the video channel")
	fmt.Fprintln(os.Stderr, "  --hd                   720p video")
	fmt.Fprintln(os.Stderr, "  --verbose              debug logging")
	fmt.Fprintln(os.Stderr, "  --version              print version and exit")
}

func main() {
	gf := parseGlobalFlags(os.Args[1:])

	if gf.version || (len(gf.rest) > 0 && gf.rest[0] == "version") {
		fmt.Println(version.String())
		os.Exit(0)
	}
	if len(gf.rest) == 0 {
		usage()
		os.Exit(1)
	}

	s, err := gf.loadSettings()
	if err != nil {
		fmt.Fprintf(os.Stderr, "settings: %v\n", err)
		os.Exit(1)
	}
	logger, closer, err := settings.NewLogger(s.Logs, os.Stderr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logging: %v\n", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)

	cmd, args := gf.rest[0], gf.rest[1:]
	var run func(context.Context, settings.Settings, *slog.Logger, []string) error
	switch cmd {
	case "fly":
		run = runFly
	case "telemetry":
		run = func(ctx context.Context, s settings.Settings, log *slog.Logger, args []string) error {
			return runTelemetry(ctx, s, log, args, os.Stdout)
		}
	case "relay":
		run = runRelay
	case "watch":
		run = func(ctx context.Context, s settings.Settings, log *slog.Logger, args []string) error {
			return runWatch(ctx, s, log, args, os.Stdout)
		}
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n", cmd)
		usage()
		os.Exit(1)
	}

	err = run(ctx, s, logger, args)
	stop()
	closer.Close()
	if err != nil && !errors.Is(err, context.Canceled) {
		fmt.Fprintf(os.Stderr, "%s exited: %v\n", cmd, err)
		os.Exit(1)
	}
}
