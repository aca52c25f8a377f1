package llm

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os/exec"
	"strconv"
	"strings"
	"syscall"
	"time"
	"unicode/utf8"
)

// Exec runs a llama.cpp CLI binary once per request and streams its stdout.
// The model is reloaded on every call, so this backend suits small models
// and machines without a resident server.
type Exec struct {
	binary  string
	model   string
	threads int
	ctxSize int
	seed    int
}

// ExecOpts holds parameters for creating an Exec engine.
type ExecOpts struct {
	Binary      string // defaults to "llama-cli"
	Model       string // path to the model file
	Threads     int
	ContextSize int
	Seed        int
}

// NewExec creates an Exec engine.
func NewExec(opts ExecOpts) (*Exec, error) {
	if opts.Model == "" {
		return nil, fmt.Errorf("llm: exec: model is required")
	}
	if opts.Binary == "" {
		opts.Binary = "llama-cli"
	}
	return &Exec{
		binary:  opts.Binary,
		model:   opts.Model,
		threads: opts.Threads,
		ctxSize: opts.ContextSize,
		seed:    opts.Seed,
	}, nil
}

// Name implements Engine.
func (e *Exec) Name() string { return "exec" }

// args builds the command line for one request.
func (e *Exec) args(req Request) []string {
	args := []string{"-m", e.model}
	if e.threads > 0 {
		args = append(args, "-t", strconv.Itoa(e.threads))
	}
	if e.ctxSize > 0 {
		args = append(args, "-c", strconv.Itoa(e.ctxSize))
	}
	if e.seed != 0 {
		args = append(args, "-s", strconv.Itoa(e.seed))
	}
	args = append(args,
		"-n", strconv.Itoa(req.MaxTokens),
		"--top-k", strconv.Itoa(req.TopK),
		"--top-p", strconv.FormatFloat(req.TopP, 'f', -1, 64),
		"--temp", strconv.FormatFloat(req.Temperature, 'f', -1, 64),
		"--no-display-prompt",
		"-p", req.Prompt,
	)
	return args
}

// Complete implements Engine.
func (e *Exec) Complete(ctx context.Context, req Request) (string, error) {
	var sb strings.Builder
	err := e.Stream(ctx, req, func(token string) error {
		sb.WriteString(token)
		return nil
	})
	if err != nil {
		return "", err
	}
	return sb.String(), nil
}

// Stream implements Engine. Output is cut at the first stop sequence and
// the subprocess is terminated as soon as one is seen.
func (e *Exec) Stream(ctx context.Context, req Request, fn TokenFunc) error {
	procCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	cmd := exec.CommandContext(procCtx, e.binary, e.args(req)...)
	// Own process group so cancellation reaches any helper processes too.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGTERM)
	}
	cmd.WaitDelay = 5 * time.Second

	stderr := &tailBuffer{max: 2048}
	cmd.Stderr = stderr

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("llm: exec: stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("llm: exec: start %s: %w", e.binary, err)
	}

	filter := NewStopFilter(req.Stop)
	var partial []byte
	var cbErr error
	buf := make([]byte, 4096)

	for cbErr == nil && !filter.Stopped() {
		n, rerr := stdout.Read(buf)
		if n > 0 {
			var text string
			text, partial = splitUTF8(partial, buf[:n])
			out, _ := filter.Push(text)
			if out != "" {
				cbErr = fn(out)
			}
		}
		if rerr != nil {
			break
		}
	}

	if cbErr != nil || filter.Stopped() {
		cancel()
		_ = cmd.Wait()
		return cbErr
	}

	out, _ := filter.Push(string(partial))
	if !filter.Stopped() {
		out += filter.Flush()
	}
	if out != "" {
		if err := fn(out); err != nil {
			_ = cmd.Wait()
			return err
		}
	}

	if err := cmd.Wait(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return fmt.Errorf("llm: exec: %s: %w: %s", e.binary, err, msg)
		}
		return fmt.Errorf("llm: exec: %s: %w", e.binary, err)
	}
	return nil
}

// splitUTF8 appends chunk to pending and returns the longest prefix that
// ends on a rune boundary, plus the incomplete remainder.
func splitUTF8(pending, chunk []byte) (string, []byte) {
	data := append(pending, chunk...)
	cut := len(data)
	for i := len(data) - 1; i >= 0 && i >= len(data)-utf8.UTFMax; i-- {
		if utf8.RuneStart(data[i]) {
			if !utf8.FullRune(data[i:]) {
				cut = i
			}
			break
		}
	}
	rest := make([]byte, len(data)-cut)
	copy(rest, data[cut:])
	return string(data[:cut]), rest
}

// tailBuffer keeps the last max bytes written to it.
type tailBuffer struct {
	max int
	buf bytes.Buffer
}

var _ io.Writer = (*tailBuffer)(nil)

func (t *tailBuffer) Write(p []byte) (int, error) {
	n := len(p)
	t.buf.Write(p)
	if extra := t.buf.Len() - t.max; extra > 0 {
		t.buf.Next(extra)
	}
	return n, nil
}

func (t *tailBuffer) String() string { return t.buf.String() }
