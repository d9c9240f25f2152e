package main

import (
	"context"
	"fmt"
	"net/url"
	"os/exec"
	"strings"

	"github.com/tiger/speakloop/api/pipeline"
)

// commandPlayer plays file:// handles with an external command such as
// "mpg123 -q" or "afplay". Without a command it announces the handle.
type commandPlayer struct {
	command  []string
	announce func(string)
}

func newCommandPlayer(command string, announce func(string)) *commandPlayer {
	return &commandPlayer{command: strings.Fields(command), announce: announce}
}

func (p *commandPlayer) Play(ctx context.Context, handle pipeline.AudioHandle) error {
	if err := handle.Validate(); err != nil {
		return err
	}
	u, err := url.Parse(handle.URI)
	if err != nil {
		return err
	}
	if len(p.command) == 0 || u.Scheme != "file" {
		p.announce(fmt.Sprintf("  audio (%s): %s", handle.VoiceID, handle.URI))
		return nil
	}
	args := append(append([]string{}, p.command[1:]...), u.Path)
	cmd := exec.CommandContext(ctx, p.command[0], args...)
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("%s: %w: %s", p.command[0], err, strings.TrimSpace(string(out)))
	}
	return nil
}
