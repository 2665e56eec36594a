package ghost

import (
	"context"
	"errors"
	"io"
	"os/exec"
	"sync"
	"sync/atomic"
	"time"

	"github.com/danmuck/ghostwire/internal/observability"
	"github.com/danmuck/ghostwire/internal/protocol"
	"github.com/danmuck/ghostwire/internal/tools"
	"github.com/danmuck/ghostwire/internal/transport"
	"github.com/rs/zerolog/log"
)

const (
	DefaultShell            = "/bin/sh"
	DefaultOutputChunkBytes = 2000
	DefaultFlushGrace       = 200 * time.Millisecond
	defaultSendTimeout      = 5 * time.Second
)

var ErrEmptyCommand = errors.New("ghost: empty command")

// Spawned identifies one started command. Seq is assigned by the
// supervisor and never reused; the OS may recycle PID once the child is
// reaped, so it is informational only.
type Spawned struct {
	Seq uint64
	PID int
}

// ExitStatus is the outcome of a spawned command once it has been reaped.
type ExitStatus struct {
	Seq      uint64
	PID      int
	Code     int
	Err      error
	ExitedAt time.Time
}

// Spawner starts shell commands for the dispatcher.
type Spawner interface {
	Spawn(command, deviceID, msgID string) (Spawned, error)
}

// Poller is the worker's non-blocking termination check, keyed by
// Spawned.Seq.
type Poller interface {
	Poll(seq uint64) (ExitStatus, bool)
}

type SupervisorConfig struct {
	Shell            string
	OutputChunkBytes int
	FlushGrace       time.Duration
	SendTimeout      time.Duration
}

// Supervisor runs commands in their own goroutine and child process and
// streams combined output back through the reply sender.
type Supervisor struct {
	cfg    SupervisorConfig
	sender transport.Sender
	seq    atomic.Uint64

	mu     sync.Mutex
	exited map[uint64]ExitStatus
}

func NewSupervisor(cfg SupervisorConfig, sender transport.Sender) *Supervisor {
	if cfg.Shell == "" {
		cfg.Shell = DefaultShell
	}
	if cfg.OutputChunkBytes <= 0 {
		cfg.OutputChunkBytes = DefaultOutputChunkBytes
	}
	if cfg.FlushGrace < 0 {
		cfg.FlushGrace = 0
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = defaultSendTimeout
	}
	return &Supervisor{cfg: cfg, sender: sender, exited: make(map[uint64]ExitStatus)}
}

// Spawn starts `<shell> -c command` without waiting for it.
func (s *Supervisor) Spawn(command, deviceID, msgID string) (Spawned, error) {
	if command == "" {
		return Spawned{}, ErrEmptyCommand
	}
	cmd := exec.Command(s.cfg.Shell, "-c", command)
	out, err := cmd.StdoutPipe()
	if err != nil {
		return Spawned{}, err
	}
	cmd.Stderr = cmd.Stdout
	if err := cmd.Start(); err != nil {
		return Spawned{}, err
	}
	task := Spawned{Seq: s.seq.Add(1), PID: cmd.Process.Pid}
	log.Debug().
		Uint64("seq", task.Seq).
		Int("pid", task.PID).
		Str("msgid", msgID).
		Str("command", command).
		Msg("ghost.Supervisor.Spawn")

	go s.stream(task, cmd, out, deviceID, msgID)
	return task, nil
}

// Poll reports the exit of task seq once. It never blocks.
func (s *Supervisor) Poll(seq uint64) (ExitStatus, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.exited[seq]
	if ok {
		delete(s.exited, seq)
	}
	return st, ok
}

func (s *Supervisor) stream(task Spawned, cmd *exec.Cmd, out io.Reader, deviceID, msgID string) {
	pid := task.PID
	buf := make([]byte, s.cfg.OutputChunkBytes)
	for {
		n, err := out.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			s.send(deviceID, msgID, chunk)
		}
		if err != nil {
			if !errors.Is(err, io.EOF) {
				log.Warn().Err(err).Int("pid", pid).Msg("ghost.Supervisor.stream read")
			}
			break
		}
	}

	werr := cmd.Wait()
	if s.cfg.FlushGrace > 0 {
		time.Sleep(s.cfg.FlushGrace)
	}

	st := ExitStatus{Seq: task.Seq, PID: pid, Code: tools.ExitCode(werr), ExitedAt: time.Now()}
	var exitErr *exec.ExitError
	if werr != nil && !errors.As(werr, &exitErr) {
		st.Err = werr
	}
	s.mu.Lock()
	s.exited[task.Seq] = st
	s.mu.Unlock()
	log.Debug().Uint64("seq", task.Seq).Int("pid", pid).Int("exit_code", st.Code).Msg("ghost.Supervisor.stream exited")
}

func (s *Supervisor) send(deviceID, msgID string, chunk []byte) {
	if s.sender == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.SendTimeout)
	defer cancel()
	reply := protocol.NewReply(deviceID, msgID, protocol.AnswerCmdOutput, chunk)
	if err := s.sender.Send(ctx, reply); err != nil {
		log.Warn().Err(err).Str("msgid", msgID).Msg("ghost.Supervisor.send output dropped")
		return
	}
	observability.RecordOutputBytes(len(chunk))
}
