package tts

import (
	"bufio"
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"sync"

	"github.com/mattn/go-shellwords"
)

// maxLineBytes bounds one base64 PCM line from the backend.
const maxLineBytes = 16 << 20

type execSynth struct {
	cmd        []string
	sampleRate int
	channels   int

	// one backend process at a time
	mu sync.Mutex
}

type execRequest struct {
	Text       string `json:"text"`
	Language   string `json:"language"`
	Voice      string `json:"voice"`
	SampleRate int    `json:"sample_rate"`
	Channels   int    `json:"channels"`
}

type execResponse struct {
	PCMBase64 string `json:"pcm_base64"`
	Final     bool   `json:"final"`
	Error     string `json:"error,omitempty"`
}

// NewExecSynth runs command once per request, writing a JSON request on stdin
// and reading JSON lines of base64 PCM from stdout.
func NewExecSynth(command string, sampleRate, channels int) (Synthesizer, error) {
	args, err := shellwords.NewParser().Parse(command)
	if err != nil {
		return nil, fmt.Errorf("parse tts command: %w", err)
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("tts command empty")
	}
	return &execSynth{cmd: args, sampleRate: sampleRate, channels: channels}, nil
}

func (e *execSynth) Synthesize(ctx context.Context, req SynthRequest) (<-chan SynthChunk, <-chan error) {
	chunks := make(chan SynthChunk)
	errs := make(chan error, 1)
	go func() {
		defer close(errs)
		defer close(chunks)
		e.mu.Lock()
		defer e.mu.Unlock()
		if err := e.run(ctx, req, chunks); err != nil {
			errs <- err
		}
	}()
	return chunks, errs
}

func (e *execSynth) run(ctx context.Context, req SynthRequest, out chan<- SynthChunk) error {
	payload, err := json.Marshal(execRequest{
		Text:       req.Text,
		Language:   req.Language,
		Voice:      req.Voice,
		SampleRate: e.sampleRate,
		Channels:   e.channels,
	})
	if err != nil {
		return err
	}

	cmd := exec.CommandContext(ctx, e.cmd[0], e.cmd[1:]...)
	cmd.Stdin = bytes.NewReader(append(payload, '\n'))
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return err
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start tts backend: %w", err)
	}

	readErr := e.readChunks(ctx, req.SessionID, stdout, out)
	waitErr := cmd.Wait()
	switch {
	case readErr != nil:
		return readErr
	case waitErr != nil:
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return fmt.Errorf("tts backend: %w: %s", waitErr, msg)
		}
		return fmt.Errorf("tts backend: %w", waitErr)
	}
	return nil
}

// readChunks decodes response lines until the backend closes stdout, reports
// an error, or ctx ends. The reader is drained on every early return so the
// process can exit.
func (e *execSynth) readChunks(ctx context.Context, sessionID string, r io.Reader, out chan<- SynthChunk) (err error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
	defer func() {
		if err != nil {
			for scanner.Scan() {
			}
		}
	}()

	sequence := 0
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var resp execResponse
		if err := json.Unmarshal(line, &resp); err != nil {
			return fmt.Errorf("decode tts response: %w", err)
		}
		if resp.Error != "" {
			return fmt.Errorf("tts backend: %s", resp.Error)
		}
		pcm, err := base64.StdEncoding.DecodeString(resp.PCMBase64)
		if err != nil {
			return fmt.Errorf("decode tts pcm: %w", err)
		}
		chunk := SynthChunk{
			SessionID:  sessionID,
			Sequence:   sequence,
			SampleRate: e.sampleRate,
			Channels:   e.channels,
			PCM:        pcm,
			Final:      resp.Final,
		}
		select {
		case out <- chunk:
		case <-ctx.Done():
			return ctx.Err()
		}
		sequence++
	}
	return scanner.Err()
}
