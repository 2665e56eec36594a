package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/danmuck/ghostwire/internal/logging"
	"github.com/danmuck/ghostwire/internal/mirage"
	"github.com/danmuck/ghostwire/internal/protocol"
	"github.com/danmuck/ghostwire/internal/protocol/frame"
	"github.com/danmuck/ghostwire/internal/transport"
	"github.com/rs/zerolog/log"
	"github.com/spf13/pflag"
)

func main() {
	logging.ConfigureRuntime("miragectl")
	if err := run(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		fmt.Fprintf(os.Stderr, "miragectl: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	opts, err := parseArgs(args)
	if err != nil {
		return err
	}
	cfg, err := resolveSettings(opts)
	if err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	l, err := openLink(ctx, cfg, opts.Command != "listen" || cfg.hub(), opts.Command != "publish" || !opts.NoWait)
	if err != nil {
		return err
	}
	defer l.close()

	switch opts.Command {
	case "publish":
		return publish(ctx, cfg, opts, l, os.Stdout)
	case "listen":
		return listen(ctx, l, os.Stdout)
	default:
		return serveHub(ctx, l, os.Stdin, os.Stdout)
	}
}

// link is the pair of transports one invocation uses.
type link struct {
	hub      *mirage.Hub
	sender   transport.Sender
	receiver transport.Receiver
	closers  []io.Closer
}

func (l *link) close() {
	for i := len(l.closers) - 1; i >= 0; i-- {
		_ = l.closers[i].Close()
	}
}

func openLink(ctx context.Context, cfg settings, wantSend, wantReceive bool) (*link, error) {
	l := &link{}
	if cfg.hub() {
		hub, err := mirage.NewHub(mirage.HubConfig{
			PublishAddr: cfg.HubPublishAddr,
			CollectAddr: cfg.HubCollectAddr,
			Session:     cfg.Session,
		})
		if err != nil {
			return nil, err
		}
		go func() {
			if err := hub.Serve(ctx); err != nil {
				log.Error().Err(err).Msg("miragectl hub stopped")
			}
		}()
		l.hub, l.sender, l.receiver = hub, hub, hub
		l.closers = append(l.closers, hub)
		return l, nil
	}

	envelope, err := transport.CodecByName(cfg.Codec, frame.DefaultLimits())
	if err != nil {
		return nil, err
	}
	opts := transport.Options{Codec: envelope, Session: cfg.Session}
	if wantReceive && cfg.Collect != "" {
		rx, err := transport.OpenReceiver(ctx, cfg.Collect, opts)
		if err != nil {
			return nil, fmt.Errorf("collect %s: %w", cfg.Collect, err)
		}
		l.receiver = rx
		l.closers = append(l.closers, rx)
	}
	if wantSend {
		tx, err := transport.OpenSender(ctx, cfg.Publish, opts)
		if err != nil {
			l.close()
			return nil, fmt.Errorf("publish %s: %w", cfg.Publish, err)
		}
		l.sender = tx
		l.closers = append(l.closers, tx)
	}
	return l, nil
}

func publish(ctx context.Context, cfg settings, opts options, l *link, out io.Writer) error {
	token, rest := opts.Args[0], opts.Args[1:]
	var args [][]byte
	if opts.File != "" {
		payload, err := os.ReadFile(opts.File)
		if err != nil {
			return err
		}
		args = append(args, payload)
	}
	for _, a := range rest {
		args = append(args, []byte(a))
	}

	waitCtx, cancel := context.WithTimeout(ctx, cfg.ReplyTimeout)
	defer cancel()
	if l.hub != nil {
		if err := waitForSubscriber(waitCtx, l.hub); err != nil {
			return fmt.Errorf("no agent connected: %w", err)
		}
	}

	pub := &mirage.Publisher{DeviceID: opts.DeviceID, Sender: l.sender}
	msgID, err := pub.Publish(waitCtx, token, args...)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "msgid %s\n", msgID)
	if opts.NoWait || l.receiver == nil {
		return nil
	}

	res, err := (&mirage.Collector{Receiver: l.receiver}).Await(waitCtx, msgID)
	for _, r := range res.Replies {
		printReply(out, r)
	}
	if err != nil {
		return err
	}
	if res.Final.Code != protocol.AnswerCompleted {
		return fmt.Errorf("command ended with %s", res.Final.Code.Token())
	}
	return nil
}

func listen(ctx context.Context, l *link, out io.Writer) error {
	err := (&mirage.Collector{Receiver: l.receiver}).Listen(ctx, func(r protocol.Reply) bool {
		printReply(out, r)
		return true
	})
	if ctx.Err() != nil {
		return nil
	}
	return err
}

// serveHub publishes one command per stdin line, "DEVICE TOKEN [ARG...]"
// with the remaining words joined into a single argument frame,
// and prints every reply.
func serveHub(ctx context.Context, l *link, in io.Reader, out io.Writer) error {
	go func() { _ = listen(ctx, l, out) }()

	lines := bufio.NewScanner(in)
	for lines.Scan() {
		fields := strings.Fields(lines.Text())
		if len(fields) < 2 {
			continue
		}
		pub := &mirage.Publisher{DeviceID: fields[0], Sender: l.sender}
		args := make([][]byte, 0, len(fields)-2)
		if len(fields) > 2 {
			args = append(args, []byte(strings.Join(fields[2:], " ")))
		}
		msgID, err := pub.Publish(ctx, fields[1], args...)
		if err != nil {
			log.Error().Err(err).Msg("miragectl hub publish")
			continue
		}
		fmt.Fprintf(out, "msgid %s\n", msgID)
	}
	<-ctx.Done()
	return nil
}

func waitForSubscriber(ctx context.Context, hub *mirage.Hub) error {
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
	for hub.Subscribers() == 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
	return nil
}

func printReply(out io.Writer, r protocol.Reply) {
	if r.Code == protocol.AnswerCmdOutput {
		_, _ = out.Write(r.Detail)
		return
	}
	if r.HasDetail {
		fmt.Fprintf(out, "%s %s %s %q\n", r.DeviceID, r.MsgID, r.Code.Token(), r.Detail)
		return
	}
	fmt.Fprintf(out, "%s %s %s\n", r.DeviceID, r.MsgID, r.Code.Token())
}
