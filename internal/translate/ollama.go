package translate

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
)

const systemPrompt = "You are a professional interpreter. Translate the user's text faithfully. " +
	"Reply with the translation only, without quotes, notes or explanations."

type ollamaTranslator struct {
	endpoint    string
	model       string
	temperature float64
	client      *http.Client
}

// NewOllamaTranslator prompts a local Ollama model to translate each segment.
func NewOllamaTranslator(endpoint, model string, temperature float64) Translator {
	if model == "" {
		model = "llama3.2:latest"
	}
	return &ollamaTranslator{
		endpoint:    strings.TrimRight(endpoint, "/"),
		model:       model,
		temperature: temperature,
		client:      http.DefaultClient,
	}
}

type ollamaRequest struct {
	Model   string        `json:"model"`
	Prompt  string        `json:"prompt"`
	System  string        `json:"system,omitempty"`
	Stream  bool          `json:"stream"`
	Options ollamaOptions `json:"options"`
}

type ollamaOptions struct {
	Temperature float64 `json:"temperature,omitempty"`
}

type ollamaStreamResponse struct {
	Response string `json:"response"`
	Done     bool   `json:"done"`
	Error    string `json:"error,omitempty"`
}

func buildPrompt(text, source, dest string) string {
	return fmt.Sprintf("Translate from %s to %s:\n\n%s", source, dest, text)
}

func (t *ollamaTranslator) Translate(ctx context.Context, text, source, dest string) (Result, error) {
	payload := ollamaRequest{
		Model:   t.model,
		Prompt:  buildPrompt(text, source, dest),
		System:  systemPrompt,
		Stream:  true,
		Options: ollamaOptions{Temperature: t.temperature},
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return Result{}, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, t.endpoint+"/api/generate", bytes.NewReader(body))
	if err != nil {
		return Result{}, err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(httpReq)
	if err != nil {
		return Result{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return Result{}, fmt.Errorf("ollama returned status %s", resp.Status)
	}

	scanner := bufio.NewScanner(resp.Body)
	var accumulated strings.Builder
	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return Result{}, ctx.Err()
		default:
		}
		line := scanner.Bytes()
		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}
		var chunk ollamaStreamResponse
		if err := json.Unmarshal(line, &chunk); err != nil {
			return Result{}, err
		}
		if chunk.Error != "" {
			return Result{}, fmt.Errorf("ollama: %s", chunk.Error)
		}
		accumulated.WriteString(chunk.Response)
		if chunk.Done {
			break
		}
	}
	if err := scanner.Err(); err != nil {
		return Result{}, err
	}
	translated := strings.TrimSpace(accumulated.String())
	if translated == "" {
		return Result{}, fmt.Errorf("ollama returned an empty translation")
	}
	return Result{Text: translated}, nil
}
