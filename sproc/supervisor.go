package sproc

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bassosimone/corenet"
	"github.com/bassosimone/corenet/pipe"
	"github.com/bassosimone/corenet/reactor"
	"github.com/bassosimone/corenet/task"
	"github.com/cloudflare/tableflip"
)

// Supervisor implements the worker side of spec.md §6's process-level
// supervisor handshake: it binds to whichever listening sockets Flags
// names (falling back to a freshly created dual-stack listener when a
// fd wasn't inherited), runs the cmd_fd command loop, and uses
// [tableflip.Upgrader] to hand listeners to the next process generation
// on request — the concrete stand-in for the original's sproc_mgr
// fd-inheritance contract.
type Supervisor struct {
	cfg     *Config
	corenet *corenet.Config
	flags   *Flags
	r       *reactor.Reactor
	rt      *task.Runtime
	upg     *tableflip.Upgrader

	cmdPipe  *pipe.Pipe
	stopOnce sync.Once
}

// New creates a [*Supervisor] from parsed flags, wiring a
// [tableflip.Upgrader] for the listeners that weren't inherited by fd
// number.
func New(cfg *Config, flags *Flags, r *reactor.Reactor) (*Supervisor, error) {
	upg, err := tableflip.New(tableflip.Options{})
	if err != nil {
		return nil, fmt.Errorf("sproc: tableflip.New: %w", err)
	}
	cn := cfg.corenet()
	return &Supervisor{
		cfg:     cfg,
		corenet: cn,
		flags:   flags,
		r:       r,
		rt:      task.NewRuntime(cn),
		upg:     upg,
	}, nil
}

// ListenHTTP returns a [*pipe.Pipe] bound to the plain-HTTP listening
// socket: Flags.HTTPFd if the supervisor handed one over, otherwise a
// freshly bound dual-stack listener on port via [tableflip.Upgrader].
func (s *Supervisor) ListenHTTP(port int) (*pipe.Pipe, error) {
	return s.listen(s.flags.HTTPFd, "http", port)
}

// ListenHTTPS is [*Supervisor.ListenHTTP]'s HTTPS-socket counterpart.
func (s *Supervisor) ListenHTTPS(port int) (*pipe.Pipe, error) {
	return s.listen(s.flags.HTTPSFd, "https", port)
}

// ListenPrivate is [*Supervisor.ListenHTTP]'s admin/private-socket
// counterpart.
func (s *Supervisor) ListenPrivate(port int) (*pipe.Pipe, error) {
	return s.listen(s.flags.PrivateFd, "private", port)
}

func (s *Supervisor) listen(fd int, tableflipName string, port int) (*pipe.Pipe, error) {
	if fd >= 0 {
		return wrapInheritedFD(fd, s.r)
	}

	ln, err := s.upg.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return nil, fmt.Errorf("sproc: tableflip listen %s: %w", tableflipName, err)
	}
	dupFd, err := duplicateListenerFD(ln)
	if err != nil {
		return nil, err
	}
	return pipe.New(dupFd, pipe.KindNetwork, s.r), nil
}

// Ready signals the supervisor (or tableflip's own parent generation)
// that this worker has finished initializing its listeners.
func (s *Supervisor) Ready() error { return s.upg.Ready() }

// Exit returns a channel closed when this process generation should wind
// down, matching [tableflip.Upgrader.Exit].
func (s *Supervisor) Exit() <-chan struct{} { return s.upg.Exit() }

// StopUpgrader releases the [tableflip.Upgrader]'s resources. Call once,
// typically deferred from main.
func (s *Supervisor) StopUpgrader() { s.upg.Stop() }

// RunHandshake implements the cmd_fd protocol from spec.md §6: it writes
// the startup ack, then dispatches CmdStart/CmdStop/CmdSync bytes read
// off the fd until CmdStop triggers a quiesce-then-exit, or ctx ends.
// onStop is invoked once CmdStop arrives, before the quiesce wait, and is
// responsible for telling the caller's listeners to stop accepting.
func (s *Supervisor) RunHandshake(ctx context.Context, onStop func(ctx context.Context) error) error {
	if s.flags.CmdFd < 0 {
		return nil // standalone mode: no supervisor attached
	}

	cmdPipe, err := wrapInheritedFD(s.flags.CmdFd, s.r)
	if err != nil {
		return fmt.Errorf("sproc: cmd_fd: %w", err)
	}
	s.cmdPipe = cmdPipe

	t0 := s.corenet.TimeNow()
	var acked atomic.Bool
	s.r.ScheduleTask(func() {
		if acked.Load() {
			return
		}
		s.corenet.Logger.Info("sprocStartupAckWatchdog",
			slog.Duration("elapsed", s.corenet.TimeNow().Sub(t0)))
	}, t0.Add(s.cfg.startAckDeadline()))

	if err := s.ack(ctx); err != nil {
		return fmt.Errorf("sproc: startup ack: %w", err)
	}
	acked.Store(true)

	buf := make([]byte, 1)
	for {
		n, err := s.cmdPipe.Read(ctx, buf)
		if err != nil {
			return err
		}
		if n == 0 {
			continue
		}

		switch Command(buf[0]) {
		case CmdStart:
			s.corenet.Logger.Info("sprocCommandStart")
		case CmdSync:
			if err := s.ack(ctx); err != nil {
				return fmt.Errorf("sproc: sync ack: %w", err)
			}
		case CmdStop:
			return s.handleStop(ctx, onStop)
		default:
			s.corenet.Logger.Info("sprocCommandUnknown", slog.Int("byte", int(buf[0])))
		}
	}
}

func (s *Supervisor) handleStop(ctx context.Context, onStop func(ctx context.Context) error) error {
	s.corenet.Logger.Info("sprocCommandStop")
	if onStop != nil {
		if err := onStop(ctx); err != nil {
			s.corenet.Logger.Info("sprocStopCallbackFailed", slog.String("err", err.Error()))
		}
	}

	s.quiesce(ctx)

	if err := s.ack(ctx); err != nil {
		return fmt.Errorf("sproc: stop ack: %w", err)
	}
	return nil
}

// quiesce waits until no pipes remain live on s.r, or
// Config.QuiesceTimeout elapses, whichever happens first.
func (s *Supervisor) quiesce(ctx context.Context) {
	deadline := s.corenet.TimeNow().Add(s.cfg.quiesceTimeout())
	for pipe.LiveCount(s.r) > 0 && s.corenet.TimeNow().Before(deadline) {
		if err := task.Sleep(ctx, 100*time.Millisecond); err != nil {
			return
		}
	}
}

func (s *Supervisor) ack(ctx context.Context) error {
	_, err := s.cmdPipe.Write(ctx, []byte{AckByte})
	return err
}
