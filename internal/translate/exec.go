package translate

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"sync"

	"github.com/mattn/go-shellwords"
)

type execTranslator struct {
	cmd []string
	mu  sync.Mutex
}

type execRequest struct {
	Text   string `json:"text"`
	Source string `json:"source"`
	Dest   string `json:"dest"`
}

type execResponse struct {
	Text  string `json:"text"`
	Error string `json:"error,omitempty"`
}

func NewExecTranslator(command string) (Translator, error) {
	parser := shellwords.NewParser()
	args, err := parser.Parse(command)
	if err != nil {
		return nil, fmt.Errorf("parse translation command: %w", err)
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("translation command empty")
	}
	return &execTranslator{cmd: args}, nil
}

func (t *execTranslator) Translate(ctx context.Context, text, source, dest string) (Result, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	input, err := json.Marshal(execRequest{Text: text, Source: source, Dest: dest})
	if err != nil {
		return Result{}, err
	}

	base := t.cmd[0]
	args := append([]string{}, t.cmd[1:]...)
	cmd := exec.CommandContext(ctx, base, args...)
	cmd.Stdin = bytes.NewReader(input)
	output, err := cmd.Output()
	if err != nil {
		return Result{}, fmt.Errorf("translation exec command failed: %w", err)
	}

	var resp execResponse
	if err := json.Unmarshal(output, &resp); err != nil {
		return Result{}, fmt.Errorf("decode translation exec response: %w", err)
	}
	if resp.Error != "" {
		return Result{}, fmt.Errorf("translation backend: %s", resp.Error)
	}
	return Result{Text: resp.Text}, nil
}
