package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// LlamaCpp talks to a llama.cpp server (`llama-server`) over its native
// /completion endpoint. The server owns the model, thread count and
// context size.
type LlamaCpp struct {
	baseURL    string
	httpClient *http.Client
}

// NewLlamaCpp creates a client for the llama.cpp server at baseURL.
func NewLlamaCpp(baseURL string) *LlamaCpp {
	return &LlamaCpp{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 0},
	}
}

// Name implements Engine.
func (c *LlamaCpp) Name() string { return "llamacpp" }

type llamaCppRequest struct {
	Prompt      string   `json:"prompt"`
	NPredict    int      `json:"n_predict"`
	TopK        int      `json:"top_k"`
	TopP        float64  `json:"top_p"`
	Temperature float64  `json:"temperature"`
	Stop        []string `json:"stop,omitempty"`
	Stream      bool     `json:"stream"`
	CachePrompt bool     `json:"cache_prompt"`
}

type llamaCppResponse struct {
	Content string `json:"content"`
	Stop    bool   `json:"stop"`
}

// Complete implements Engine.
func (c *LlamaCpp) Complete(ctx context.Context, req Request) (string, error) {
	resp, err := c.post(ctx, req, false)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var out llamaCppResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("llm: llamacpp: decoding response: %w", err)
	}
	return out.Content, nil
}

// Stream implements Engine. The server answers with server-sent events,
// one `data: {...}` line per fragment.
func (c *LlamaCpp) Stream(ctx context.Context, req Request, fn TokenFunc) error {
	resp, err := c.post(ctx, req, true)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || !strings.HasPrefix(line, "data:") {
			continue
		}
		payload := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if payload == "[DONE]" {
			return nil
		}
		var ev llamaCppResponse
		if err := json.Unmarshal([]byte(payload), &ev); err != nil {
			return fmt.Errorf("llm: llamacpp: decoding event: %w", err)
		}
		if ev.Content != "" {
			if err := fn(ev.Content); err != nil {
				return err
			}
		}
		if ev.Stop {
			return nil
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("llm: llamacpp: reading stream: %w", err)
	}
	return nil
}

func (c *LlamaCpp) post(ctx context.Context, req Request, stream bool) (*http.Response, error) {
	body, err := json.Marshal(llamaCppRequest{
		Prompt:      req.Prompt,
		NPredict:    req.MaxTokens,
		TopK:        req.TopK,
		TopP:        req.TopP,
		Temperature: req.Temperature,
		Stop:        req.Stop,
		Stream:      stream,
		CachePrompt: true,
	})
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/completion", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("llm: llamacpp: creating request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("llm: llamacpp: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("llm: llamacpp: %w", &StatusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(msg))})
	}
	return resp, nil
}
