// Package claudecli implements the agent runner port by driving the Claude
// Code CLI in non-interactive mode and decoding its stream-json output.
package claudecli

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"

	"github.com/chriopter/sandboxer/internal/port/agentrunner"
)

const runnerName = "claude"

// scanBufferMax bounds a single stream-json line. Tool results can carry
// whole file contents, so the default scanner limit is far too small.
const scanBufferMax = 4 * 1024 * 1024

// Runner executes turns by spawning one CLI process per prompt.
type Runner struct {
	command      string
	systemPrompt string
}

var _ agentrunner.Runner = (*Runner)(nil)

// New creates a Claude CLI runner. command defaults to "claude";
// systemPrompt, when non-empty, is a path passed through to the CLI.
func New(command, systemPrompt string) *Runner {
	if command == "" {
		command = "claude"
	}
	return &Runner{command: command, systemPrompt: systemPrompt}
}

// Register registers the Claude runner factory.
func Register() {
	agentrunner.Register(runnerName, func(config map[string]string) (agentrunner.Runner, error) {
		return New(config["command"], config["system_prompt"]), nil
	})
}

// Name returns "claude".
func (r *Runner) Name() string { return runnerName }

// Run spawns one CLI process for the turn and streams decoded events until
// the process exits. Cancelling ctx kills the process; the channel always
// ends with a result or a failure event.
func (r *Runner) Run(ctx context.Context, req agentrunner.Request) (<-chan agentrunner.Event, error) {
	args := []string{
		"-p",
		"--output-format", "stream-json",
		"--verbose",
		"--dangerously-skip-permissions",
	}
	if req.ResumeToken != "" {
		args = append(args, "--resume", req.ResumeToken)
	}
	if r.systemPrompt != "" {
		args = append(args, "--system-prompt", r.systemPrompt)
	}
	args = append(args, req.Prompt)

	cmd := exec.CommandContext(ctx, r.command, args...)
	cmd.Dir = req.Workdir
	cmd.Env = append(os.Environ(), "IS_SANDBOX=1")

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("claude: stdout pipe: %w", err)
	}
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("claude: start: %w", err)
	}

	events := make(chan agentrunner.Event)
	go func() {
		defer close(events)

		sawResult := false
		scanner := bufio.NewScanner(stdout)
		scanner.Buffer(make([]byte, 0, 64*1024), scanBufferMax)
		for scanner.Scan() {
			line := bytes.TrimSpace(scanner.Bytes())
			if len(line) == 0 {
				continue
			}
			decoded, err := decodeLine(line)
			if err != nil {
				// A single malformed line is not fatal; the CLI mixes
				// diagnostics into stdout under some failure modes.
				continue
			}
			// Consumers stop reading at the result event; emit nothing
			// past it.
			if sawResult {
				continue
			}
			for _, ev := range decoded {
				if ev.Type == agentrunner.EventResult {
					sawResult = true
				}
				select {
				case events <- ev:
				case <-ctx.Done():
					_ = cmd.Wait()
					events <- agentrunner.Event{Type: agentrunner.EventFailed, Err: ctx.Err()}
					return
				}
			}
		}

		waitErr := cmd.Wait()
		if sawResult {
			return
		}
		if ctx.Err() != nil {
			events <- agentrunner.Event{Type: agentrunner.EventFailed, Err: ctx.Err()}
			return
		}
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			if scanErr := scanner.Err(); scanErr != nil {
				msg = scanErr.Error()
			} else if waitErr != nil {
				msg = waitErr.Error()
			} else {
				msg = "stream ended without a result"
			}
		}
		events <- agentrunner.Event{Type: agentrunner.EventFailed, Err: fmt.Errorf("claude: %s", msg)}
	}()

	return events, nil
}
