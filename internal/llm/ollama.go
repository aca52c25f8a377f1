package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// Ollama talks to an Ollama server through /api/generate in raw mode, so
// the prompt template built by llamagram reaches the model untouched.
type Ollama struct {
	baseURL    string
	model      string
	threads    int
	ctxSize    int
	seed       int
	httpClient *http.Client
}

// OllamaOpts holds parameters for creating an Ollama engine.
type OllamaOpts struct {
	BaseURL     string
	Model       string
	Threads     int
	ContextSize int
	Seed        int
}

// NewOllama creates a client for the Ollama server at opts.BaseURL.
func NewOllama(opts OllamaOpts) *Ollama {
	return &Ollama{
		baseURL:    strings.TrimRight(opts.BaseURL, "/"),
		model:      opts.Model,
		threads:    opts.Threads,
		ctxSize:    opts.ContextSize,
		seed:       opts.Seed,
		httpClient: &http.Client{Timeout: 0},
	}
}

// Name implements Engine.
func (c *Ollama) Name() string { return "ollama" }

type ollamaOptions struct {
	NumPredict  int      `json:"num_predict,omitempty"`
	TopK        int      `json:"top_k,omitempty"`
	TopP        float64  `json:"top_p,omitempty"`
	Temperature float64  `json:"temperature"`
	Stop        []string `json:"stop,omitempty"`
	NumCtx      int      `json:"num_ctx,omitempty"`
	NumThread   int      `json:"num_thread,omitempty"`
	Seed        int      `json:"seed,omitempty"`
}

type ollamaGenerateRequest struct {
	Model   string        `json:"model"`
	Prompt  string        `json:"prompt"`
	Raw     bool          `json:"raw"`
	Stream  bool          `json:"stream"`
	Options ollamaOptions `json:"options"`
}

type ollamaGenerateResponse struct {
	Response string `json:"response"`
	Done     bool   `json:"done"`
	Error    string `json:"error,omitempty"`
}

// Complete implements Engine.
func (c *Ollama) Complete(ctx context.Context, req Request) (string, error) {
	resp, err := c.post(ctx, req, false)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var out ollamaGenerateResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("llm: ollama: decoding response: %w", err)
	}
	if out.Error != "" {
		return "", fmt.Errorf("llm: ollama: %s", out.Error)
	}
	return out.Response, nil
}

// Stream implements Engine. Ollama streams newline-delimited JSON objects.
func (c *Ollama) Stream(ctx context.Context, req Request, fn TokenFunc) error {
	resp, err := c.post(ctx, req, true)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	dec := json.NewDecoder(resp.Body)
	for {
		var chunk ollamaGenerateResponse
		if err := dec.Decode(&chunk); errors.Is(err, io.EOF) {
			return nil
		} else if err != nil {
			return fmt.Errorf("llm: ollama: reading stream: %w", err)
		}
		if chunk.Error != "" {
			return fmt.Errorf("llm: ollama: %s", chunk.Error)
		}
		if chunk.Response != "" {
			if err := fn(chunk.Response); err != nil {
				return err
			}
		}
		if chunk.Done {
			return nil
		}
	}
}

func (c *Ollama) post(ctx context.Context, req Request, stream bool) (*http.Response, error) {
	body, err := json.Marshal(ollamaGenerateRequest{
		Model:  c.model,
		Prompt: req.Prompt,
		Raw:    true,
		Stream: stream,
		Options: ollamaOptions{
			NumPredict:  req.MaxTokens,
			TopK:        req.TopK,
			TopP:        req.TopP,
			Temperature: req.Temperature,
			Stop:        req.Stop,
			NumCtx:      c.ctxSize,
			NumThread:   c.threads,
			Seed:        c.seed,
		},
	})
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/generate", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("llm: ollama: creating request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("llm: ollama: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("llm: ollama: %w", &StatusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(msg))})
	}
	return resp, nil
}
