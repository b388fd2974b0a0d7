package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"net"
	"os"
	"strings"
	"time"

	"github.com/chronologos/ardrone/internal/command"
	"github.com/chronologos/ardrone/internal/console"
	"github.com/chronologos/ardrone/internal/drone"
	"github.com/chronologos/ardrone/internal/relay"
	"github.com/chronologos/ardrone/internal/settings"
)

func runFly(ctx context.Context, s settings.Settings, log *slog.Logger, args []string) error {
	fset := flag.NewFlagSet("fly", flag.ExitOnError)
	noLand := fset.Bool("no-land", false, "leave the drone airborne when the console exits")
	fset.Parse(args)

	dr, err := drone.Connect(ctx, s.DroneConfig(log))
	if err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	defer dr.Halt()

	c := console.New(dr, dr.State, console.Config{
		Losses: func() uint64 { return dr.NavStats().Losses },
		Logger: log,
	})
	err = c.Run(ctx)
	if !*noLand {
		if lerr := dr.Do(command.Land); lerr != nil {
			log.Error("land failed", "err", lerr)
		}
	}
	return err
}

func runTelemetry(ctx context.Context, s settings.Settings, log *slog.Logger, args []string, out io.Writer) error {
	fset := flag.NewFlagSet("telemetry", flag.ExitOnError)
	interval := fset.Duration("interval", s.Relay.TelemetryInterval, "print at most this often")
	count := fset.Int("n", 0, "exit after this many packets (0 = run until interrupted)")
	fset.Parse(args)

	s.Video.Enabled = false
	dr, err := drone.Connect(ctx, s.DroneConfig(log))
	if err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	defer dr.Halt()

	tick := time.NewTicker(*interval)
	defer tick.Stop()
	last := dr.State.Telemetry()
	printed := 0
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-tick.C:
			t := dr.State.Telemetry()
			if t == last {
				continue
			}
			last = t
			printTelemetry(out, relay.NewTelemetry(t, dr.NavStats().Losses))
			printed++
			if *count > 0 && printed >= *count {
				return nil
			}
		}
	}
}

func runRelay(ctx context.Context, s settings.Settings, log *slog.Logger, args []string) error {
	fset := flag.NewFlagSet("relay", flag.ExitOnError)
	listen := fset.String("listen", s.Relay.Listen, "UDP address to serve on")
	fset.Parse(args)

	passkey, err := relayPasskey(s.Relay.PasskeyFile)
	if err != nil {
		return err
	}

	dr, err := drone.Connect(ctx, s.DroneConfig(log))
	if err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	defer dr.Halt()

	srv, err := relay.Listen(relay.Config{
		Addr:              *listen,
		Passkey:           passkey,
		TelemetryInterval: s.Relay.TelemetryInterval,
		FrameInterval:     s.Relay.FrameInterval,
		Losses:            func() uint64 { return dr.NavStats().Losses },
		Logger:            log,
	}, dr.State, dr)
	if err != nil {
		return err
	}
	defer srv.Close()
	fmt.Fprintf(os.Stderr, "relay on %s\n", srv.Addr())
	return srv.Serve(ctx)
}

// relayPasskey loads the passkey from path, creating it when missing. With
// no path a fresh key is printed so a watcher can use it.
func relayPasskey(path string) ([]byte, error) {
	if path != "" {
		key, err := relay.ReadPasskeyFile(path)
		if err == nil {
			return key, nil
		}
		if !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("passkey file: %w", err)
		}
	}
	key, err := relay.NewPasskey()
	if err != nil {
		return nil, err
	}
	if path != "" {
		if err := relay.WritePasskeyFile(path, key); err != nil {
			return nil, fmt.Errorf("passkey file: %w", err)
		}
		return key, nil
	}
	fmt.Fprintf(os.Stderr, "passkey %x\n", key)
	return key, nil
}

func runWatch(ctx context.Context, s settings.Settings, log *slog.Logger, args []string, out io.Writer) error {
	fset := flag.NewFlagSet("watch", flag.ExitOnError)
	passkeyHex := fset.String("k", "", "hex passkey (default: relay.passkey_file)")
	send := fset.String("send", "", "comma-separated actions to send first, e.g. takeoff,hover")
	fset.Parse(args)

	var addr string
	if fset.NArg() > 0 {
		addr = fset.Arg(0)
	} else {
		_, port, err := net.SplitHostPort(s.Relay.Listen)
		if err != nil {
			return fmt.Errorf("relay.listen: %w", err)
		}
		addr = net.JoinHostPort("127.0.0.1", port)
	}

	var passkey []byte
	var err error
	switch {
	case *passkeyHex != "":
		passkey, err = relay.ParsePasskey(*passkeyHex)
	case s.Relay.PasskeyFile != "":
		passkey, err = relay.ReadPasskeyFile(s.Relay.PasskeyFile)
	default:
		fmt.Fprintln(os.Stderr, "error: -k <passkey-hex> is required")
		fset.Usage()
		os.Exit(1)
	}
	if err != nil {
		return err
	}

	dialCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	c, err := relay.Dial(dialCtx, addr, passkey)
	cancel()
	if err != nil {
		return err
	}
	defer c.Close()
	stop := context.AfterFunc(ctx, func() { c.Close() })
	defer stop()

	if *send != "" {
		for _, name := range strings.Split(*send, ",") {
			if err := c.Send(relay.Command{Action: strings.TrimSpace(name)}); err != nil {
				return err
			}
		}
	}

	for {
		msg, err := c.Next()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return err
		}
		switch m := msg.(type) {
		case *relay.Telemetry:
			printTelemetry(out, m)
		case *relay.Frame:
			fmt.Fprintf(out, "frame %dx%d %d bytes\n", m.Width, m.Height, len(m.Data))
		case *relay.Error:
			fmt.Fprintf(out, "rejected: %s\n", m.Message)
		default:
			log.Debug("ignoring relay message", "type", fmt.Sprintf("%T", m))
		}
	}
}

func printTelemetry(out io.Writer, m *relay.Telemetry) {
	fmt.Fprintf(out, "seq=%d state=%#08x %s bat=%d%% alt=%dmm theta=%d phi=%d psi=%d v=(%.0f,%.0f,%.0f) losses=%d\n",
		m.Sequence, m.State, m.FlightState, m.Battery, m.Altitude,
		m.Theta, m.Phi, m.Psi, m.VX, m.VY, m.VZ, m.Losses)
}
