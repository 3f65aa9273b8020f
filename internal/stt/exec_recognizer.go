package stt

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"sync"

	"github.com/loqalabs/loqa-interpret/internal/audio"
	"github.com/loqalabs/loqa-interpret/internal/config"
	"github.com/mattn/go-shellwords"
)

type execRecognizer struct {
	cmd     []string
	cfg     config.STTConfig
	tempDir string
	mu      sync.Mutex
}

type execResult struct {
	Text       string  `json:"text"`
	Language   string  `json:"language"`
	Confidence float64 `json:"confidence"`
}

// NewExecRecognizer runs an external command per chunk. The command receives
// the chunk as a 16-bit WAV via --audio and prints {"text": ...} on stdout.
func NewExecRecognizer(cfg config.STTConfig, tempDir string) (Recognizer, error) {
	parser := shellwords.NewParser()
	args, err := parser.Parse(cfg.Command)
	if err != nil {
		return nil, fmt.Errorf("parse stt command: %w", err)
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("stt command is empty")
	}
	if tempDir == "" {
		tempDir = os.TempDir()
	}
	return &execRecognizer{cmd: args, cfg: cfg, tempDir: tempDir}, nil
}

func (r *execRecognizer) Transcribe(ctx context.Context, samples []float32, sampleRate int, language string) (TranscriptResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	path, err := audio.WriteTempFile(r.tempDir, "loqa_stt_*.wav", audio.PCM16FromFloat32(samples), sampleRate, 1)
	if err != nil {
		return TranscriptResult{}, err
	}
	defer os.Remove(path)

	base := r.cmd[0]
	cmdArgs := append([]string{}, r.cmd[1:]...)
	cmdArgs = append(cmdArgs, "--audio", path)
	if r.cfg.ModelPath != "" {
		cmdArgs = append(cmdArgs, "--model", r.cfg.ModelPath)
	}
	if language != "" {
		cmdArgs = append(cmdArgs, "--language", language)
	}

	command := exec.CommandContext(ctx, base, cmdArgs...)
	var stdout bytes.Buffer
	var stderr bytes.Buffer
	command.Stdout = &stdout
	command.Stderr = &stderr

	if err := command.Run(); err != nil {
		return TranscriptResult{}, fmt.Errorf("stt command failed: %w: %s", err, stderr.String())
	}

	var resp execResult
	if err := json.Unmarshal(stdout.Bytes(), &resp); err != nil {
		return TranscriptResult{}, fmt.Errorf("decode stt response: %w", err)
	}
	if resp.Language == "" {
		resp.Language = language
	}
	return TranscriptResult{Text: resp.Text, Language: resp.Language, Confidence: resp.Confidence}, nil
}
