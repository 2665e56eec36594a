package ghost

import (
	"context"
	"encoding/hex"
	"fmt"
	"net/url"
	"path/filepath"
	"strings"
	"time"

	"github.com/danmuck/ghostwire/internal/config"
	"github.com/danmuck/ghostwire/internal/protocol"
	"github.com/danmuck/ghostwire/internal/transport"
	"github.com/rs/zerolog/log"
	"github.com/zeebo/blake3"
)

// Outcome is the dispatcher's answer for one accepted command. A Deferred
// outcome has no reply yet; the handler sends it later through Replies.
type Outcome struct {
	Code     protocol.AnswerCode
	Detail   []byte
	Deferred bool
}

// NoticeSink receives spawn notices for the worker's process table.
type NoticeSink interface {
	PushNotice(Notice)
}

// Dispatcher routes accepted commands to their handlers.
type Dispatcher struct {
	DeviceID string
	PushDir  string
	Spawner  Spawner
	Notices  NoticeSink
	Files    FileSystem
	Config   config.Provider
	Daemons  DaemonController

	// Replies carries answers for work finished off the worker goroutine.
	// When nil, daemon restarts run inline.
	Replies transport.Sender

	// LiveTasks feeds STATUS. The worker sets it when nil.
	LiveTasks func() int
	StartedAt time.Time
}

// Dispatch runs cmd. It is called only for commands the codec accepted.
func (d *Dispatcher) Dispatch(ctx context.Context, cmd protocol.ParsedCommand) Outcome {
	switch {
	case cmd.Kind == protocol.KindExec:
		return d.exec(cmd)
	case cmd.Kind == protocol.KindPush:
		return d.push(cmd)
	case cmd.Kind == protocol.KindUCILine:
		return d.configLine(ctx, cmd)
	case cmd.Kind == protocol.KindStatus:
		return d.status()
	case cmd.Kind.IsURL():
		return d.fetch(cmd)
	case cmd.Kind.IsBinary():
		log.Warn().
			Str("msgid", cmd.MsgID).
			Str("kind", cmd.Kind.String()).
			Int("bytes", argBytes(cmd)).
			Msg("ghost.Dispatcher.Dispatch binary payload unsupported")
		return Outcome{Code: protocol.AnswerUndefinedError}
	default:
		log.Warn().
			Str("msgid", cmd.MsgID).
			Str("kind", cmd.Kind.String()).
			Msg("ghost.Dispatcher.Dispatch no handler")
		return Outcome{Code: protocol.AnswerUndefinedError}
	}
}

func (d *Dispatcher) exec(cmd protocol.ParsedCommand) Outcome {
	if d.Spawner == nil || cmd.Args.Len() < 1 {
		return Outcome{Code: protocol.AnswerExecError}
	}
	command := string(cmd.Args[0])
	task, err := d.Spawner.Spawn(command, d.DeviceID, cmd.MsgID)
	if err != nil {
		log.Error().Err(err).Str("msgid", cmd.MsgID).Msg("ghost.Dispatcher.exec spawn failed")
		return Outcome{Code: protocol.AnswerExecError}
	}
	if d.Notices != nil {
		d.Notices.PushNotice(Notice{MsgID: cmd.MsgID, Command: command, PID: task.PID, Seq: task.Seq})
	}
	return Outcome{Code: protocol.AnswerTask}
}

func (d *Dispatcher) push(cmd protocol.ParsedCommand) Outcome {
	if d.Files == nil || cmd.Args.Len() < 1 {
		return Outcome{Code: protocol.AnswerExecError}
	}
	payload := cmd.Args[0]
	path := d.pushPath(cmd)
	if err := d.Files.CreateExclusive(path, payload); err != nil {
		log.Error().Err(err).Str("msgid", cmd.MsgID).Str("path", path).Msg("ghost.Dispatcher.push")
		return Outcome{Code: protocol.AnswerExecError}
	}
	sum := blake3.Sum256(payload)
	log.Info().
		Str("msgid", cmd.MsgID).
		Str("path", path).
		Int("bytes", len(payload)).
		Str("blake3", hex.EncodeToString(sum[:])).
		Msg("ghost.Dispatcher.push stored")
	return Outcome{Code: protocol.AnswerCompleted}
}

// pushPath is <push_dir>/<msgid> unless the sender named the file. Relative
// names resolve under the push dir.
func (d *Dispatcher) pushPath(cmd protocol.ParsedCommand) string {
	dir := d.PushDir
	if dir == "" {
		dir = DefaultPushDir
	}
	if cmd.Args.Len() < 2 || len(cmd.Args[1]) == 0 {
		return filepath.Join(dir, filepath.Base(cmd.MsgID))
	}
	name := string(cmd.Args[1])
	if filepath.IsAbs(name) {
		return filepath.Clean(name)
	}
	return filepath.Join(dir, name)
}

func (d *Dispatcher) configLine(ctx context.Context, cmd protocol.ParsedCommand) Outcome {
	if d.Config == nil || cmd.Args.Len() < 1 {
		return Outcome{Code: protocol.AnswerConfigError}
	}
	daemons := make([]string, 0, cmd.Args.Len()-1)
	for _, name := range cmd.Args[1:] {
		daemons = append(daemons, string(name))
	}
	if len(daemons) > 0 && d.Daemons == nil {
		return Outcome{Code: protocol.AnswerConfigError}
	}
	line, err := config.ParseLine(string(cmd.Args[0]))
	if err == nil {
		err = config.Apply(d.Config, line)
	}
	if err != nil {
		log.Error().Err(err).Str("msgid", cmd.MsgID).Msg("ghost.Dispatcher.configLine")
		return Outcome{Code: protocol.AnswerConfigError}
	}
	log.Info().Str("msgid", cmd.MsgID).Str("key", line.Key()).Msg("ghost.Dispatcher.configLine applied")
	if len(daemons) == 0 {
		return Outcome{Code: protocol.AnswerCompleted}
	}
	if d.Replies == nil {
		return Outcome{Code: d.restart(ctx, cmd.MsgID, daemons)}
	}
	go func() {
		code := d.restart(ctx, cmd.MsgID, daemons)
		reply := protocol.NewReply(d.DeviceID, cmd.MsgID, code)
		if err := d.Replies.Send(ctx, reply); err != nil {
			log.Warn().Err(err).Str("msgid", cmd.MsgID).Msg("ghost.Dispatcher.configLine reply dropped")
		}
	}()
	return Outcome{Deferred: true}
}

// restart stops at the first daemon that fails.
func (d *Dispatcher) restart(ctx context.Context, msgID string, daemons []string) protocol.AnswerCode {
	for _, name := range daemons {
		if err := d.Daemons.Restart(ctx, name); err != nil {
			log.Error().Err(err).Str("msgid", msgID).Str("daemon", name).Msg("ghost.Dispatcher.restart")
			return protocol.AnswerConfigError
		}
	}
	return protocol.AnswerCompleted
}

func (d *Dispatcher) status() Outcome {
	live := 0
	if d.LiveTasks != nil {
		live = d.LiveTasks()
	}
	uptime := time.Duration(0)
	if !d.StartedAt.IsZero() {
		uptime = time.Since(d.StartedAt).Truncate(time.Second)
	}
	detail := fmt.Sprintf("device_id=%s uptime=%s live_tasks=%d", d.DeviceID, uptime, live)
	return Outcome{Code: protocol.AnswerCompleted, Detail: []byte(detail)}
}

// fetch validates the URL only; downloads are not wired in.
func (d *Dispatcher) fetch(cmd protocol.ParsedCommand) Outcome {
	if cmd.Args.Len() < 1 || !validURL(string(cmd.Args[0])) {
		return Outcome{Code: protocol.AnswerBrokenURL}
	}
	log.Info().Str("msgid", cmd.MsgID).Str("kind", cmd.Kind.String()).Msg("ghost.Dispatcher.fetch unsupported")
	return Outcome{Code: protocol.AnswerUndefinedError}
}

func validURL(raw string) bool {
	u, err := url.ParseRequestURI(strings.TrimSpace(raw))
	if err != nil || u.Host == "" {
		return false
	}
	switch u.Scheme {
	case "http", "https", "ftp":
		return true
	}
	return false
}

func argBytes(cmd protocol.ParsedCommand) int {
	n := 0
	for _, a := range cmd.Args {
		n += len(a)
	}
	return n
}
