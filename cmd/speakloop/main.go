package main

import (
	"fmt"
	"io"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/tiger/speakloop/internal/config"
	"github.com/tiger/speakloop/internal/locale"
	"github.com/tiger/speakloop/internal/logging"
	"github.com/tiger/speakloop/internal/observability/telemetry"
	"github.com/tiger/speakloop/internal/runtime/provider/contracts"
	"github.com/tiger/speakloop/providers/translate/awstranslate"
	"github.com/tiger/speakloop/providers/tts/polly"
)

func main() {
	if err := run(os.Args[1:], os.Stdin, os.Stdout, os.Stderr); err != nil {
		fmt.Fprintf(os.Stderr, "speakloop: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string, stdin io.Reader, stdout, stderr io.Writer) error {
	return execute(args, defaultDeps(stdin, stdout, stderr))
}

// deps are the process collaborators the commands build on. Tests replace
// the cloud providers.
type deps struct {
	stdin  io.Reader
	stdout io.Writer
	stderr io.Writer

	newTranslator  func(config.Config) (contracts.Translator, error)
	newSynthesizer func(config.Config) (contracts.Synthesizer, error)
}

func defaultDeps(stdin io.Reader, stdout, stderr io.Writer) deps {
	return deps{
		stdin:  stdin,
		stdout: stdout,
		stderr: stderr,
		newTranslator: func(cfg config.Config) (contracts.Translator, error) {
			return awstranslate.NewAdapter(awstranslate.Config{Region: cfg.AWSRegion, Timeout: cfg.Translate.Timeout})
		},
		newSynthesizer: func(cfg config.Config) (contracts.Synthesizer, error) {
			return polly.NewAdapter(polly.Config{
				Region:   cfg.AWSRegion,
				Engine:   cfg.Polly.Engine,
				AudioDir: cfg.Polly.AudioDir,
				Timeout:  cfg.Polly.Timeout,
			})
		},
	}
}

// app is the state shared by subcommands once configuration is loaded.
type app struct {
	deps
	v      *viper.Viper
	cfg    config.Config
	log    zerolog.Logger
	source locale.Source
	tel    *telemetry.Pipeline
}

func execute(args []string, d deps) error {
	a := &app{deps: d, v: viper.New()}
	root := a.rootCommand()
	root.SetArgs(args)
	root.SetIn(d.stdin)
	root.SetOut(d.stdout)
	root.SetErr(d.stderr)
	err := root.Execute()
	if a.tel != nil {
		_ = a.tel.Close()
	}
	return err
}

func (a *app) rootCommand() *cobra.Command {
	var configFile string
	root := &cobra.Command{
		Use:           "speakloop",
		Short:         "Speak, translate, hear",
		Long:          "speakloop recognizes speech, translates the finalized transcript and speaks the translation.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.load(configFile)
		},
	}

	flags := root.PersistentFlags()
	flags.StringVar(&configFile, "config", "", "config file (default ./speakloop.yaml when present)")
	flags.String("source", "", "source language code or name (default from LC_ALL/LC_MESSAGES/LANG)")
	flags.String("target", "", "target language name, e.g. Spanish")
	flags.String("recognition", "", "recognition provider: deepgram or loopback")
	flags.String("script", "", "text replayed by the loopback recognizer")
	flags.String("log-level", "", "log level: debug, info, warn, error")
	flags.String("log-format", "", "log format: console or json")
	flags.String("report", "", "write a session report to this path")

	for key, flag := range map[string]string{
		"source_language":      "source",
		"target_language":      "target",
		"recognition.provider": "recognition",
		"recognition.script":   "script",
		"log.level":            "log-level",
		"log.format":           "log-format",
		"report.path":          "report",
	} {
		_ = a.v.BindPFlag(key, flags.Lookup(flag))
	}

	root.AddCommand(a.languagesCommand(), a.translateCommand(), a.listenCommand(), a.validateReportCommand())
	return root
}

func (a *app) load(configFile string) error {
	cfg, err := config.Load(a.v, configFile)
	if err != nil {
		return err
	}
	logger, err := logging.New(logging.Options{Level: cfg.Log.Level, Format: cfg.Log.Format, Out: a.stderr})
	if err != nil {
		return err
	}
	source, err := locale.Resolve(cfg.SourceLanguage)
	if err != nil {
		return err
	}
	a.cfg = cfg
	a.log = logger
	a.source = source
	if cfg.Telemetry.Enabled {
		telLog := logging.Component(logger, "telemetry")
		a.tel = telemetry.NewPipeline(telemetry.NewLogSink(logger),
			telemetry.Config{QueueCapacity: cfg.Telemetry.QueueCapacity, IdleDepthEvery: 10, Logger: &telLog})
	}

	event := logger.Debug().Str("source_code", source.Code).Str("source_name", source.DisplayName)
	for k, v := range cfg.Redacted() {
		event = event.Str(k, v)
	}
	event.Msg("configuration loaded")
	return nil
}

func (a *app) emitter() telemetry.Emitter {
	if a.tel == nil {
		return telemetry.NopEmitter{}
	}
	return a.tel
}
