package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/danmuck/ghostwire/internal/ghost"
	"github.com/danmuck/ghostwire/internal/logging"
	"github.com/kardianos/service"
	"github.com/rs/zerolog/log"
	"github.com/spf13/pflag"
)

type program struct {
	cfg    ghost.ServiceConfig
	cancel context.CancelFunc
	done   chan error
}

func (p *program) Start(s service.Service) error {
	ctx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel
	p.done = make(chan error, 1)
	go func() {
		err := ghost.NewService(p.cfg).RunContext(ctx)
		p.done <- err
		if err != nil && !errors.Is(err, context.Canceled) {
			log.Error().Err(err).Msg("ghostctl agent stopped")
			os.Exit(1)
		}
	}()
	return nil
}

func (p *program) Stop(s service.Service) error {
	log.Info().Msg("ghostctl stopping")
	if p.cancel != nil {
		p.cancel()
		<-p.done
	}
	return nil
}

func main() {
	logging.ConfigureRuntime("ghostctl")
	if err := run(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		fmt.Fprintf(os.Stderr, "ghostctl: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	opts, err := parseArgs(args)
	if err != nil {
		return err
	}
	cfg, err := resolveServiceConfig(opts)
	if err != nil {
		return err
	}

	svcConfig := &service.Config{
		Name:        "ghostctl",
		DisplayName: "ghostwire agent",
		Description: "Receives checksummed commands and reports results to the control plane.",
		Arguments:   []string{"--config", opts.ConfigPath, "run"},
	}
	s, err := service.New(&program{cfg: cfg}, svcConfig)
	if err != nil {
		return err
	}

	switch opts.Action {
	case "install":
		err = s.Install()
	case "uninstall":
		err = s.Uninstall()
	case "start":
		err = s.Start()
	case "stop":
		err = s.Stop()
	default:
		return s.Run()
	}
	if err != nil {
		return fmt.Errorf("%s: %w", opts.Action, err)
	}
	log.Info().Str("action", opts.Action).Msg("ghostctl service")
	return nil
}
