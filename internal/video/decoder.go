package video

import (
	"bufio"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strconv"
	"sync"
	"time"
)

// Decoder is the external transcoder: encoded transport bytes go into
// Input, fixed-size RGB frames come out of Output.
type Decoder interface {
	Input() io.WriteCloser
	Output() io.Reader
	// Terminate stops the decoder and unblocks readers of Output. It is
	// safe to call more than once.
	Terminate() error
}

const terminateGrace = 1 * time.Second

// FFmpegArgs returns the ffmpeg arguments that read a stream on stdin and
// write height x width rgb24 frames to stdout.
func FFmpegArgs(height, width int) []string {
	return []string{
		"-loglevel", "error",
		"-i", "-",
		"-f", "image2pipe",
		"-pix_fmt", "rgb24",
		"-s", strconv.Itoa(width) + "x" + strconv.Itoa(height),
		"-codec:v", "rawvideo",
		"-",
	}
}

// Process is a Decoder backed by a child process.
type Process struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout *os.File
	log    *slog.Logger

	waited   chan struct{}
	waitErr  error
	termOnce sync.Once
}

// StartFFmpeg starts ffmpeg at path (looked up in PATH if bare).
func StartFFmpeg(path string, height, width int, logger *slog.Logger) (*Process, error) {
	return StartProcess(path, FFmpegArgs(height, width), logger)
}

// StartProcess starts name with args as a decoder. The child's stderr is
// logged line by line at debug level.
func StartProcess(name string, args []string, logger *slog.Logger) (*Process, error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	log := logger.With("component", "decoder", "cmd", name)

	cmd := exec.Command(name, args...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("decoder stdin: %w", err)
	}
	// A plain pipe rather than StdoutPipe: Wait must not close the read
	// end while frames are still buffered in it.
	pr, pw, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("decoder stdout: %w", err)
	}
	cmd.Stdout = pw
	stderr, err := cmd.StderrPipe()
	if err != nil {
		pr.Close()
		pw.Close()
		return nil, fmt.Errorf("decoder stderr: %w", err)
	}

	if err := cmd.Start(); err != nil {
		pr.Close()
		pw.Close()
		return nil, fmt.Errorf("start decoder %s: %w", name, err)
	}
	pw.Close()

	p := &Process{
		cmd:    cmd,
		stdin:  stdin,
		stdout: pr,
		log:    log,
		waited: make(chan struct{}),
	}
	go func() {
		sc := bufio.NewScanner(stderr)
		for sc.Scan() {
			log.Debug("decoder stderr", "line", sc.Text())
		}
		p.waitErr = cmd.Wait()
		close(p.waited)
		log.Debug("decoder exited", "err", p.waitErr)
	}()
	log.Info("decoder started", "pid", cmd.Process.Pid)
	return p, nil
}

func (p *Process) Input() io.WriteCloser { return p.stdin }

func (p *Process) Output() io.Reader { return p.stdout }

// Terminate closes both ends of the decoder's pipes and kills it if it has
// not exited within a grace period.
func (p *Process) Terminate() error {
	p.termOnce.Do(func() {
		p.stdin.Close()
		p.stdout.Close()
		select {
		case <-p.waited:
		case <-time.After(terminateGrace):
			p.log.Warn("decoder did not exit, killing")
			p.cmd.Process.Kill()
			<-p.waited
		}
	})
	return nil
}

// Wait blocks until the process exits and returns its exit error.
func (p *Process) Wait() error {
	<-p.waited
	return p.waitErr
}
