package ltx

import (
	"context"
	"fmt"
	"os"

	"golang.org/x/sys/unix"

	"github.com/cdent/ltx/internal/child"
	"github.com/cdent/ltx/internal/constants"
	"github.com/cdent/ltx/internal/diag"
	"github.com/cdent/ltx/internal/interfaces"
	"github.com/cdent/ltx/internal/logging"
	"github.com/cdent/ltx/internal/protocol"
	"github.com/cdent/ltx/internal/reactor"
	"github.com/cdent/ltx/internal/reaper"
)

// Options configures an Engine programmatically. There is no CLI-facing
// counterpart beyond cmd/ltx-exec's fixed construction of
// DefaultOptions: the wire protocol takes no flags or environment.
type Options struct {
	// StdinFd and StdoutFd are the fds the reactor reads commands from
	// and writes frames to. Default to the process's own stdin/stdout.
	StdinFd, StdoutFd int

	// BufSize is the inbound/outbound ring buffer capacity.
	BufSize int

	// MaxEvents bounds how many readiness events a single Poller.Wait
	// call returns.
	MaxEvents int

	// Logger receives Printf/Debugf-style diagnostics; defaults to
	// logging.Default().
	Logger interfaces.Logger

	// Observer receives hot-path counters; defaults to a no-op.
	Observer interfaces.Observer

	// Execer spawns child processes; defaults to the real OS execer.
	// Overriding it (e.g. with MockChildExecer) is how callers embed
	// an Engine in their own tests without forking real processes.
	Execer child.Execer
}

// DefaultOptions returns an Options wired to the process's real
// stdin/stdout and a real child execer with sensible defaults for
// everything else.
func DefaultOptions() Options {
	return Options{
		StdinFd:   int(os.Stdin.Fd()),
		StdoutFd:  int(os.Stdout.Fd()),
		BufSize:   constants.BufSize,
		MaxEvents: 128,
		Logger:    logging.Default(),
		Observer:  NoOpObserver{},
		Execer:    &child.OSExecer{},
	}
}

// Engine aggregates every internal component into one runnable
// process.
type Engine struct {
	StartPID int
	Stats    *Stats

	loop   *reactor.Loop
	poller reactor.Poller
	sigFd  int
	sink   *diag.Sink
}

// New constructs an Engine from opts, opening the epoll instance and
// signalfd and registering stdin/stdout/sigfd with the poller. It does
// not start running; call Run to drive it.
func New(opts Options) (*Engine, error) {
	if opts.Logger == nil {
		opts.Logger = logging.Default()
	}
	if opts.Observer == nil {
		opts.Observer = NoOpObserver{}
	}
	if opts.Execer == nil {
		opts.Execer = &child.OSExecer{}
	}
	if opts.BufSize == 0 {
		opts.BufSize = constants.BufSize
	}
	if opts.MaxEvents == 0 {
		opts.MaxEvents = 128
	}

	if err := unix.SetNonblock(opts.StdinFd, true); err != nil {
		return nil, fmt.Errorf("ltx: set stdin nonblocking: %w", err)
	}
	if err := unix.SetNonblock(opts.StdoutFd, true); err != nil {
		return nil, fmt.Errorf("ltx: set stdout nonblocking: %w", err)
	}

	sigFd, err := reaper.Open()
	if err != nil {
		return nil, fmt.Errorf("ltx: open signalfd: %w", err)
	}

	poller, err := reactor.NewEpollPoller(opts.MaxEvents)
	if err != nil {
		unix.Close(sigFd)
		return nil, fmt.Errorf("ltx: new poller: %w", err)
	}

	startPID := os.Getpid()
	stats := NewStats()
	sink := diag.NewSink(startPID, reactor.MonotonicNowNs)
	table := child.NewTable()

	loop := reactor.NewLoop(poller, opts.StdinFd, opts.StdoutFd, sigFd, table, opts.Execer, opts.Logger, opts.Observer, sink, reactor.MonotonicNowNs)
	loop.Inbound = protocol.NewBuffer(opts.BufSize)
	loop.Outbound = protocol.NewBuffer(opts.BufSize)
	if err := loop.Register(); err != nil {
		poller.Close()
		unix.Close(sigFd)
		return nil, fmt.Errorf("ltx: register fds: %w", err)
	}

	return &Engine{
		StartPID: startPID,
		Stats:    stats,
		loop:     loop,
		poller:   poller,
		sigFd:    sigFd,
		sink:     sink,
	}, nil
}

// Close releases the engine's poller and signalfd. Safe to call after
// Run returns.
func (e *Engine) Close() error {
	var firstErr error
	if err := e.poller.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	if err := unix.Close(e.sigFd); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}

// Sink exposes the engine's diagnostic sink, e.g. so cmd/ltx-exec can
// emit the startup banner and shutdown log frames through the same
// path every other diagnostic uses.
func (e *Engine) Sink() *diag.Sink {
	return e.sink
}

// Run drives the reactor loop to completion: it calls RunOnce
// repeatedly until the peer hangs up cleanly or ctx is cancelled,
// returning nil on clean shutdown and a non-nil error for anything
// RunOnce reports. Fatal protocol/assertion failures never reach this
// return path: they exit the process directly via diag.Sink.Fatal.
func (e *Engine) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		stop, err := e.loop.RunOnce()
		if err != nil {
			return err
		}
		if stop {
			return nil
		}
	}
}

// Run is a package-level convenience entrypoint: construct an Engine
// from opts, run it to completion, and close it. cmd/ltx-exec does not
// use it; it calls New and Engine.Run itself so it can log the banner
// and shutdown lines through the engine's Sink.
func Run(ctx context.Context, opts Options) error {
	engine, err := New(opts)
	if err != nil {
		return err
	}
	defer engine.Close()
	return engine.Run(ctx)
}
