package stt

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strings"
	"sync"
	"unicode"
	"unicode/utf8"

	"github.com/mattn/go-shellwords"
)

// Punctuator restores punctuation and casing on raw transcripts.
type Punctuator interface {
	Restore(ctx context.Context, text string) (string, error)
}

// PunctuationError marks a failed restoration. Callers keep the original
// text when they see it.
type PunctuationError struct {
	Err error
}

func (e *PunctuationError) Error() string {
	return "punctuation restore failed: " + e.Err.Error()
}

func (e *PunctuationError) Unwrap() error { return e.Err }

type noopPunctuator struct{}

// NewNoopPunctuator returns the text unchanged.
func NewNoopPunctuator() Punctuator { return noopPunctuator{} }

func (noopPunctuator) Restore(_ context.Context, text string) (string, error) { return text, nil }

type mockPunctuator struct{}

// NewMockPunctuator capitalizes the first letter and closes the sentence.
func NewMockPunctuator() Punctuator { return mockPunctuator{} }

func (mockPunctuator) Restore(_ context.Context, text string) (string, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return text, nil
	}
	r, size := utf8.DecodeRuneInString(text)
	text = string(unicode.ToUpper(r)) + text[size:]
	last, _ := utf8.DecodeLastRuneInString(text)
	if !unicode.IsPunct(last) {
		text += "."
	}
	return text, nil
}

type execPunctuator struct {
	cmd []string
	mu  sync.Mutex
}

type punctuationPayload struct {
	Text string `json:"text"`
}

// NewExecPunctuator pipes {"text": ...} through an external command and
// expects the same shape back on stdout.
func NewExecPunctuator(command string) (Punctuator, error) {
	parser := shellwords.NewParser()
	args, err := parser.Parse(command)
	if err != nil {
		return nil, fmt.Errorf("parse punctuation command: %w", err)
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("punctuation command empty")
	}
	return &execPunctuator{cmd: args}, nil
}

func (p *execPunctuator) Restore(ctx context.Context, text string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	input, err := json.Marshal(punctuationPayload{Text: text})
	if err != nil {
		return text, &PunctuationError{Err: err}
	}
	cmd := exec.CommandContext(ctx, p.cmd[0], p.cmd[1:]...)
	cmd.Stdin = bytes.NewReader(input)
	output, err := cmd.Output()
	if err != nil {
		return text, &PunctuationError{Err: fmt.Errorf("punctuation command failed: %w", err)}
	}
	var resp punctuationPayload
	if err := json.Unmarshal(output, &resp); err != nil {
		return text, &PunctuationError{Err: fmt.Errorf("decode punctuation response: %w", err)}
	}
	if strings.TrimSpace(resp.Text) == "" {
		return text, &PunctuationError{Err: fmt.Errorf("empty punctuation response")}
	}
	return resp.Text, nil
}
