package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
	"github.com/tiger/speakloop/api/pipeline"
	"github.com/tiger/speakloop/internal/catalog"
	"github.com/tiger/speakloop/internal/config"
	"github.com/tiger/speakloop/internal/logging"
	"github.com/tiger/speakloop/internal/observability/report"
	"github.com/tiger/speakloop/internal/runtime/coordinator"
	"github.com/tiger/speakloop/internal/runtime/provider/contracts"
	"github.com/tiger/speakloop/internal/runtime/synthesis"
	"github.com/tiger/speakloop/internal/runtime/translation"
	"github.com/tiger/speakloop/providers/capture/microphone"
	"github.com/tiger/speakloop/providers/capture/silence"
	"github.com/tiger/speakloop/providers/stt/deepgram"
	"github.com/tiger/speakloop/providers/stt/loopback"
)

const closeTimeout = 30 * time.Second

func (a *app) languagesCommand() *cobra.Command {
	var all bool
	cmd := &cobra.Command{
		Use:   "languages",
		Short: "List target languages and voices for the source language",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cat := catalog.Default()
			entries := cat.TargetsFor(a.source.Code)
			if all {
				entries = cat.Entries()
			}
			def := cat.DefaultTarget(a.source.Code)

			fmt.Fprintf(a.stdout, "source: %s (%s)\n", a.source.DisplayName, a.source.Code)
			table := tablewriter.NewWriter(a.stdout)
			table.SetHeader([]string{"Language", "Code", "Voice", "Default"})
			table.SetBorder(false)
			table.SetAutoWrapText(false)
			for _, e := range entries {
				voice := cat.VoiceFor(e.Code)
				if e.VoiceID == "" {
					voice += " (fallback)"
				}
				marker := ""
				if e.DisplayName == def {
					marker = "*"
				}
				table.Append([]string{e.DisplayName, e.Code, voice, marker})
			}
			table.Render()
			return nil
		},
	}
	cmd.Flags().BoolVar(&all, "all", false, "list every catalog language")
	return cmd
}

func (a *app) translateCommand() *cobra.Command {
	var text string
	var speak bool
	cmd := &cobra.Command{
		Use:   "translate",
		Short: "Translate text once and optionally speak it",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if strings.TrimSpace(text) == "" {
				return errors.New("--text is required")
			}
			cat := catalog.Default()
			target, err := a.target(cat)
			if err != nil {
				return err
			}
			translator, err := a.newTranslator(a.cfg)
			if err != nil {
				return err
			}
			stage, err := translation.NewStage(translator, cat, a.source.Code, a.log)
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			res, err := stage.Translate(ctx, text, target)
			if err != nil {
				return errors.New(pipeline.Message(err))
			}
			fmt.Fprintln(a.stdout, res.Text)
			if !speak {
				return nil
			}

			synthesizer, err := a.newSynthesizer(a.cfg)
			if err != nil {
				return err
			}
			synth, err := synthesis.NewStage(synthesizer, cat, a.log)
			if err != nil {
				return err
			}
			handle, err := synth.Synthesize(ctx, res.Text, target)
			if err != nil {
				return errors.New(pipeline.Message(err))
			}
			return newCommandPlayer(a.cfg.PlayerCommand, newTerminalDisplay(a.stdout).note).Play(ctx, handle)
		},
	}
	cmd.Flags().StringVar(&text, "text", "", "text to translate")
	cmd.Flags().BoolVar(&speak, "speak", false, "synthesize and play the translation")
	return cmd
}

func (a *app) listenCommand() *cobra.Command {
	var once bool
	cmd := &cobra.Command{
		Use:   "listen",
		Short: "Interactive loop: Enter toggles listening, 'l <language>' switches target, 'q' quits",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return a.listen(ctx, once)
		},
	}
	cmd.Flags().BoolVar(&once, "once", false, "listen for one episode, wait for its translation and exit")
	return cmd
}

func (a *app) validateReportCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "validate-report <path>",
		Short: "Validate a session report against its schema",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := report.Read(args[0])
			if err != nil {
				return fmt.Errorf("invalid report %s: %w", args[0], err)
			}
			fmt.Fprintf(a.stdout, "report ok: %d entries (%d dropped), %s -> %s\n",
				len(r.Entries), r.Dropped, r.SourceLanguage, r.TargetLanguage)
			return nil
		},
	}
}

func (a *app) listen(ctx context.Context, once bool) error {
	cat := catalog.Default()
	target, err := a.target(cat)
	if err != nil {
		return err
	}
	recognizer, source, authorizer, err := a.recognition()
	if err != nil {
		return err
	}
	translator, err := a.newTranslator(a.cfg)
	if err != nil {
		return err
	}
	synthesizer, err := a.newSynthesizer(a.cfg)
	if err != nil {
		return err
	}

	ended := make(chan struct{}, 1)
	terminal := newTerminalDisplay(a.stdout)
	var display pipeline.Display = episodeNotifier{Display: terminal, ended: ended}
	var coord *coordinator.Coordinator
	var recorder *report.Recorder
	if a.cfg.ReportPath != "" {
		recorder = report.NewRecorder(display, report.RecorderConfig{
			SourceLanguage: a.source.Code,
			TargetLanguage: func() string { return coord.TargetLanguage() },
		})
		display = recorder
	}

	coord, err = coordinator.New(coordinator.Config{
		Recognizer:         recognizer,
		Source:             source,
		Authorizer:         authorizer,
		MaxDuration:        a.cfg.Recognition.MaxDuration,
		Translator:         translator,
		Synthesizer:        synthesizer,
		Catalog:            cat,
		SourceLanguageCode: a.source.Code,
		TargetLanguage:     target,
		Display:            display,
		Player:             newCommandPlayer(a.cfg.PlayerCommand, terminal.note),
		Telemetry:          a.emitter(),
		Logger:             a.log,
	})
	if err != nil {
		return err
	}
	fmt.Fprintf(a.stdout, "speakloop: %s -> %s\n", a.source.DisplayName, coord.TargetLanguage())

	runErr := a.interact(ctx, coord, ended, once)

	closeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), closeTimeout)
	defer cancel()
	if err := coord.Close(closeCtx); err != nil {
		a.log.Warn().Err(err).Msg("close coordinator")
	}
	if recorder != nil {
		if err := recorder.WriteFile(a.cfg.ReportPath); err != nil {
			return fmt.Errorf("write report: %w", err)
		}
		a.log.Info().Str("path", a.cfg.ReportPath).Msg("session report written")
	}
	return runErr
}

func (a *app) interact(ctx context.Context, coord *coordinator.Coordinator, ended <-chan struct{}, once bool) error {
	if once {
		if _, err := coord.Start(ctx); err != nil {
			return errors.New(pipeline.Message(err))
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ended:
		}
		return coord.Wait(ctx)
	}

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(a.stdin)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			if quit := a.command(ctx, coord, strings.TrimSpace(line)); quit {
				return nil
			}
		}
	}
}

// command applies one interactive input line and reports whether to quit.
func (a *app) command(ctx context.Context, coord *coordinator.Coordinator, line string) bool {
	switch {
	case line == "":
		// Failures already reach the display.
		_ = coord.Toggle(ctx)
	case line == "q" || line == "quit":
		return true
	case line == "t" || line == "targets":
		names := make([]string, 0)
		for _, e := range coord.Targets() {
			names = append(names, e.DisplayName)
		}
		fmt.Fprintf(a.stdout, "targets: %s (current %s)\n", strings.Join(names, ", "), coord.TargetLanguage())
	case strings.HasPrefix(line, "l "):
		name := strings.TrimSpace(strings.TrimPrefix(line, "l "))
		if err := coord.SetTargetLanguage(name); err != nil {
			fmt.Fprintf(a.stdout, "unsupported target %q\n", name)
			return false
		}
		fmt.Fprintf(a.stdout, "target: %s\n", coord.TargetLanguage())
		if err := coord.Retranslate(); err != nil && !errors.Is(err, coordinator.ErrNothingToTranslate) {
			a.log.Warn().Err(err).Msg("retranslate")
		}
	default:
		fmt.Fprintln(a.stdout, "commands: <Enter> toggle listening, l <language>, t, q")
	}
	return false
}

func (a *app) target(cat *catalog.Catalog) (string, error) {
	if a.cfg.TargetLanguage == "" {
		return cat.DefaultTarget(a.source.Code), nil
	}
	for _, e := range cat.TargetsFor(a.source.Code) {
		if strings.EqualFold(e.DisplayName, a.cfg.TargetLanguage) {
			return e.DisplayName, nil
		}
	}
	return "", fmt.Errorf("%w: %q is not offered for source %s", coordinator.ErrUnsupportedTarget, a.cfg.TargetLanguage, a.source.Code)
}

func (a *app) recognition() (contracts.Recognizer, contracts.AudioSource, contracts.Authorizer, error) {
	switch a.cfg.Recognition.Provider {
	case config.RecognitionLoopback:
		return loopback.NewRecognizer(loopback.Config{Script: a.cfg.Recognition.Script}),
			silence.Source{}, silence.Authorizer{}, nil
	case config.RecognitionDeepgram:
		key, err := a.cfg.DeepgramAPIKey()
		if err != nil {
			return nil, nil, nil, err
		}
		rec, err := deepgram.NewRecognizer(deepgram.Config{
			APIKey:   key,
			Endpoint: a.cfg.Deepgram.Endpoint,
			Model:    a.cfg.Deepgram.Model,
		})
		if err != nil {
			return nil, nil, nil, err
		}
		mic := microphone.New(microphone.Config{Logger: logging.Component(a.log, "capture")})
		return rec, mic, mic, nil
	default:
		return nil, nil, nil, fmt.Errorf("unsupported recognition provider %q", a.cfg.Recognition.Provider)
	}
}

// episodeNotifier signals when an episode ends, with a final transcript or
// a failure.
type episodeNotifier struct {
	pipeline.Display
	ended chan<- struct{}
}

func (n episodeNotifier) ShowTranscript(text string, final bool) {
	n.Display.ShowTranscript(text, final)
	if final {
		n.signal()
	}
}

func (n episodeNotifier) ShowFailure(err error) {
	n.Display.ShowFailure(err)
	n.signal()
}

func (n episodeNotifier) signal() {
	select {
	case n.ended <- struct{}{}:
	default:
	}
}
