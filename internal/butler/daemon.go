package butler

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/clean-dependency-project/itchmirror/internal/logger"
)

const listenNotification = "butlerd/listen-notification"

// DefaultStartTimeout bounds the wait for the daemon's listen notification.
const DefaultStartTimeout = 30 * time.Second

// CommandFactory builds the daemon process. Tests substitute a fake daemon.
type CommandFactory func(name string, args ...string) *exec.Cmd

// DaemonOptions configure Start.
type DaemonOptions struct {
	Executable   string
	DatabasePath string
	StartTimeout time.Duration
	Logger       *slog.Logger
	Command      CommandFactory
}

// Daemon is a running "butler daemon" process.
type Daemon struct {
	cmd      *exec.Cmd
	endpoint Endpoint
	logger   *slog.Logger
	exited   chan struct{}
	waitErr  error

	closeOnce sync.Once
}

// daemonLine is one JSON line printed by the daemon on stdout.
type daemonLine struct {
	Type   string `json:"type"`
	Secret string `json:"secret"`
	TCP    struct {
		Address string `json:"address"`
	} `json:"tcp"`
	Level   string `json:"level"`
	Message string `json:"message"`
}

// DaemonArgs returns the command line used to launch the daemon.
func DaemonArgs(databasePath string) []string {
	return []string{"daemon", "--json", "--transport", "tcp", "--dbpath", databasePath}
}

// Start launches the daemon and waits until it reports its listening address.
// The process keeps running until Close.
func Start(ctx context.Context, opts DaemonOptions) (*Daemon, error) {
	if opts.Logger == nil {
		opts.Logger = logger.Discard()
	}
	if opts.StartTimeout <= 0 {
		opts.StartTimeout = DefaultStartTimeout
	}
	if opts.Command == nil {
		opts.Command = exec.Command
	}
	if opts.DatabasePath != "" {
		if err := os.MkdirAll(filepath.Dir(opts.DatabasePath), 0755); err != nil {
			return nil, fmt.Errorf("%w: creating database directory: %v", ErrDaemonStart, err)
		}
	}

	cmd := opts.Command(opts.Executable, DaemonArgs(opts.DatabasePath)...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDaemonStart, err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDaemonStart, err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDaemonStart, err)
	}

	d := &Daemon{
		cmd:    cmd,
		logger: opts.Logger,
		exited: make(chan struct{}),
	}

	listening := make(chan Endpoint, 1)
	var readers sync.WaitGroup
	readers.Add(2)
	go func() {
		defer readers.Done()
		d.readStdout(stdout, listening)
	}()
	go func() {
		defer readers.Done()
		d.readStderr(stderr)
	}()
	go func() {
		// Pipes must be drained before Wait.
		readers.Wait()
		d.waitErr = cmd.Wait()
		close(d.exited)
	}()

	timer := time.NewTimer(opts.StartTimeout)
	defer timer.Stop()

	select {
	case ep := <-listening:
		d.endpoint = ep
		d.logger.Debug("butler daemon listening", "address", ep.TCP.Address, "pid", cmd.Process.Pid)
		return d, nil
	case <-d.exited:
		return nil, fmt.Errorf("%w: process exited before listening: %v", ErrDaemonStart, d.waitErr)
	case <-timer.C:
		_ = d.Close()
		return nil, fmt.Errorf("%w: no listen notification within %s", ErrDaemonStart, opts.StartTimeout)
	case <-ctx.Done():
		_ = d.Close()
		return nil, fmt.Errorf("%w: %v", ErrDaemonStart, ctx.Err())
	}
}

func (d *Daemon) readStdout(r io.Reader, listening chan<- Endpoint) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)
	announced := false
	for scanner.Scan() {
		line := scanner.Bytes()
		var msg daemonLine
		if err := json.Unmarshal(line, &msg); err != nil {
			d.logger.Debug("butler output", "line", string(line))
			continue
		}
		switch msg.Type {
		case listenNotification:
			if announced || msg.TCP.Address == "" {
				continue
			}
			announced = true
			var ep Endpoint
			ep.Secret = msg.Secret
			ep.TCP.Address = msg.TCP.Address
			listening <- ep
		case "log":
			d.logger.Log(context.Background(), SlogLevel(msg.Level), msg.Message, "source", "butler")
		default:
			d.logger.Debug("butler output", "type", msg.Type, "line", string(line))
		}
	}
}

func (d *Daemon) readStderr(r io.Reader) {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		if text := strings.TrimSpace(scanner.Text()); text != "" {
			d.logger.Debug("butler stderr", "line", text)
		}
	}
}

// Endpoint returns the daemon's address and connection secret.
func (d *Daemon) Endpoint() Endpoint {
	return d.endpoint
}

// Close stops the daemon and waits for it to exit.
func (d *Daemon) Close() error {
	var err error
	d.closeOnce.Do(func() {
		select {
		case <-d.exited:
			return
		default:
		}
		if killErr := d.cmd.Process.Kill(); killErr != nil && !errors.Is(killErr, os.ErrProcessDone) {
			err = fmt.Errorf("stopping butler daemon: %w", killErr)
		}
		<-d.exited
		d.logger.Debug("butler daemon stopped")
	})
	return err
}

// SlogLevel maps a daemon log level onto slog.
func SlogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warning", "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
