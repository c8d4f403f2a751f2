package engine

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os/exec"
)

// Line-delimited JSON events can carry long error details.
const maxEventLine = 1 << 20

// CommandEngine runs the translation engine as a subprocess that emits one
// JSON event per stdout line. Output files are written under the settings'
// output directory at engine-chosen paths reported in the finish event.
type CommandEngine struct {
	bin    string
	logger *slog.Logger
}

func NewCommandEngine(bin string, logger *slog.Logger) *CommandEngine {
	if logger == nil {
		logger = slog.Default()
	}
	return &CommandEngine{bin: bin, logger: logger}
}

func (e *CommandEngine) Translate(ctx context.Context, inputPath string, settings Settings) (<-chan Event, error) {
	args := []string{
		"--input", inputPath,
		"--mode", string(settings.Mode),
		"--lang-in", settings.LangIn,
		"--lang-out", settings.LangOut,
		"--output", settings.OutputDir,
		"--watermark-mode", "no_watermark",
		"--report", "jsonl",
	}

	cmd := exec.CommandContext(ctx, e.bin, args...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, err
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start engine %s: %w", e.bin, err)
	}

	events := make(chan Event)
	go func() {
		defer close(events)

		scanner := bufio.NewScanner(stdout)
		scanner.Buffer(make([]byte, 64*1024), maxEventLine)
		for scanner.Scan() {
			line := scanner.Bytes()
			if len(line) == 0 {
				continue
			}
			var ev Event
			if err := json.Unmarshal(line, &ev); err != nil {
				e.logger.Warn("skipping unparseable engine event", "error", err)
				continue
			}
			select {
			case events <- ev:
			case <-ctx.Done():
				_ = cmd.Wait()
				return
			}
		}

		if err := cmd.Wait(); err != nil && ctx.Err() == nil {
			select {
			case events <- Event{Type: EventError, Message: fmt.Sprintf("engine exited: %v", err)}:
			case <-ctx.Done():
			}
		}
	}()

	return events, nil
}
