package main

import (
	"fmt"
	"os"

	"github.com/danmuck/ghostwire/internal/config"
	"github.com/danmuck/ghostwire/internal/logging"
	"github.com/rs/zerolog/log"
	"github.com/spf13/pflag"
)

func main() {
	logging.ConfigureRuntime("configgen")
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "configgen: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	fs := pflag.NewFlagSet("configgen", pflag.ContinueOnError)
	kind := fs.StringP("kind", "k", "ghost", "config kind: ghost|mirage")
	output := fs.StringP("output", "o", "", "template output path (defaults to <kind>ctl.toml)")
	validate := fs.Bool("validate", false, "validate an existing config file instead of writing one")
	input := fs.StringP("input", "i", "", "config path for --validate (defaults to <kind>ctl.toml)")
	force := fs.Bool("force", false, "overwrite an existing config file")
	if err := fs.Parse(args); err != nil {
		return err
	}

	path, err := defaultPath(*kind)
	if err != nil {
		return err
	}

	if *validate {
		if *input != "" {
			path = *input
		}
		if err := validateFile(*kind, path); err != nil {
			return err
		}
		log.Info().Str("kind", *kind).Str("path", path).Msg("configgen validated")
		return nil
	}

	if *output != "" {
		path = *output
	}
	if err := config.WriteTemplate(path, *kind, *force); err != nil {
		return err
	}
	log.Info().Str("kind", *kind).Str("path", path).Msg("configgen wrote template")
	return nil
}

func defaultPath(kind string) (string, error) {
	switch kind {
	case "ghost", "mirage":
		return kind + "ctl.toml", nil
	}
	return "", fmt.Errorf("unknown kind: %s", kind)
}

func validateFile(kind, path string) error {
	if kind == "mirage" {
		_, err := config.LoadMirageFile(path)
		return err
	}
	_, err := config.LoadGhostFile(path)
	return err
}
