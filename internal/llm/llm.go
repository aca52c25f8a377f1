// Package llm talks to the text-generation engine. Three backends are
// supported: a llama.cpp server, an Ollama server and a llama.cpp CLI
// binary run as a subprocess. None of them is safe to call concurrently
// from more than one job; the generation worker is the only caller.
package llm

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"os/exec"
	"syscall"

	"github.com/zulandar/llamagram/internal/config"
	"github.com/zulandar/llamagram/internal/fault"
)

// Request is one generation call. Sampling parameters are fixed per
// deployment and copied in by the worker.
type Request struct {
	Prompt      string
	MaxTokens   int
	TopK        int
	TopP        float64
	Temperature float64
	Stop        []string
}

// TokenFunc receives each generated fragment in order. Returning an error
// aborts generation.
type TokenFunc func(token string) error

// Engine generates text from a prompt.
type Engine interface {
	// Complete returns the whole answer at once.
	Complete(ctx context.Context, req Request) (string, error)
	// Stream delivers the answer fragment by fragment.
	Stream(ctx context.Context, req Request, fn TokenFunc) error
	// Name identifies the backend in logs and the status page.
	Name() string
}

// New builds the engine selected by cfg.Backend.
func New(cfg config.EngineConfig) (Engine, error) {
	switch cfg.Backend {
	case config.BackendLlamaCpp:
		return NewLlamaCpp(cfg.URL), nil
	case config.BackendOllama:
		return NewOllama(OllamaOpts{
			BaseURL:     cfg.URL,
			Model:       cfg.Model,
			Threads:     cfg.Threads,
			ContextSize: cfg.ContextSize,
			Seed:        cfg.Seed,
		}), nil
	case config.BackendExec:
		return NewExec(ExecOpts{
			Binary:      cfg.Binary,
			Model:       cfg.Model,
			Threads:     cfg.Threads,
			ContextSize: cfg.ContextSize,
			Seed:        cfg.Seed,
		})
	default:
		return nil, fmt.Errorf("llm: unsupported backend %q", cfg.Backend)
	}
}

// StatusError is a non-2xx reply from an HTTP engine.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("unexpected status %d", e.Code)
	}
	return fmt.Sprintf("unexpected status %d: %s", e.Code, e.Body)
}

// Classify tags a generation error with its fault kind. Faults raised by
// the operating system (missing binary, refused connection, out of memory)
// are EngineFailure; anything else is EngineError.
func Classify(err error) error {
	if err == nil {
		return nil
	}
	if k := fault.KindOf(err); k == fault.EngineFailure || k == fault.EngineError {
		return err
	}
	return fault.Wrap(kindOf(err), "generate", err)
}

func kindOf(err error) fault.Kind {
	var (
		pathErr    *os.PathError
		syscallErr *os.SyscallError
		execErr    *exec.Error
		opErr      *net.OpError
		errno      syscall.Errno
	)
	switch {
	case errors.As(err, &pathErr),
		errors.As(err, &syscallErr),
		errors.As(err, &execErr),
		errors.As(err, &opErr),
		errors.As(err, &errno):
		return fault.EngineFailure
	default:
		return fault.EngineError
	}
}
