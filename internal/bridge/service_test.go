package bridge

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/loqalabs/loqa-interpret/internal/audio"
	"github.com/loqalabs/loqa-interpret/internal/bus"
	"github.com/loqalabs/loqa-interpret/internal/config"
	"github.com/loqalabs/loqa-interpret/internal/natsserver"
	"github.com/loqalabs/loqa-interpret/internal/pipeline"
	"github.com/loqalabs/loqa-interpret/internal/protocol"
	"github.com/loqalabs/loqa-interpret/internal/stt"
	"github.com/loqalabs/loqa-interpret/internal/translate"
	"github.com/loqalabs/loqa-interpret/internal/tts"
	"github.com/nats-io/nats.go"
)

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

type harness struct {
	svc    *Service
	pipe   *pipeline.Pipeline
	client *nats.Conn
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	log := newLogger()

	srv, err := natsserver.Start("bridge-test", config.BusConfig{Embedded: true, Port: -1}, log)
	if err != nil {
		t.Fatalf("start nats: %v", err)
	}
	t.Cleanup(srv.Shutdown)

	busCfg := config.BusConfig{Servers: []string{srv.ClientURL()}, ConnectTimeout: 2000}
	busClient, err := bus.Connect(context.Background(), "bridge-test", busCfg, log)
	if err != nil {
		t.Fatalf("connect bus: %v", err)
	}
	t.Cleanup(busClient.Close)

	cfg := config.Default()
	cfg.Audio.SpoolDir = t.TempDir()
	cfg.Streaming.PollIntervalMS = 20
	pipe, err := pipeline.New(cfg, pipeline.Deps{
		Recognizer:  stt.NewMockRecognizer(),
		Translator:  translate.NewMockTranslator(),
		Synthesizer: tts.NewMockSynth(16000, 1),
		Source:      audio.NullSource{},
		Player:      audio.NullPlayer{},
	}, log)
	if err != nil {
		t.Fatalf("new pipeline: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = pipe.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	svc := NewService(ctx, cfg.Bridge, busClient, pipe, log)
	if err := svc.Start(); err != nil {
		t.Fatalf("start bridge: %v", err)
	}
	t.Cleanup(svc.Close)
	if !svc.Healthy() {
		t.Fatal("expected healthy bridge")
	}

	client, err := nats.Connect(srv.ClientURL())
	if err != nil {
		t.Fatalf("connect client: %v", err)
	}
	t.Cleanup(client.Close)
	return &harness{svc: svc, pipe: pipe, client: client}
}

func (h *harness) request(t *testing.T, suffix string, req, reply any) {
	t.Helper()
	data, err := json.Marshal(req)
	if err != nil {
		t.Fatal(err)
	}
	msg, err := h.client.Request("interpret."+suffix, data, 2*time.Second)
	if err != nil {
		t.Fatalf("request %s: %v", suffix, err)
	}
	if err := json.Unmarshal(msg.Data, reply); err != nil {
		t.Fatalf("decode %s reply: %v", suffix, err)
	}
}

func TestTranslateRoundTrip(t *testing.T) {
	h := newHarness(t)

	results, err := h.client.SubscribeSync("interpret." + protocol.SubjectTranslation)
	if err != nil {
		t.Fatal(err)
	}
	if err := h.client.Flush(); err != nil {
		t.Fatal(err)
	}

	var reply protocol.TranslateReply
	h.request(t, protocol.SubjectTextTranslate, protocol.TranslateRequest{Text: "bonjour", Source: "fr", Dest: "en"}, &reply)
	if reply.Error != "" || reply.Translated != "[en] bonjour" || reply.Source != "fr" {
		t.Fatalf("unexpected reply %+v", reply)
	}

	msg, err := results.NextMsg(2 * time.Second)
	if err != nil {
		t.Fatalf("expected translation event: %v", err)
	}
	var published protocol.Translation
	if err := json.Unmarshal(msg.Data, &published); err != nil {
		t.Fatal(err)
	}
	if published.Translated != "[en] bonjour" || published.Original != "bonjour" {
		t.Fatalf("unexpected published translation %+v", published)
	}

	h.request(t, protocol.SubjectTextTranslate, protocol.TranslateRequest{Text: "  "}, &reply)
	if reply.Error == "" {
		t.Fatal("expected error for empty text")
	}
}

func TestLanguagesDefaultTranslateRequests(t *testing.T) {
	h := newHarness(t)

	var langs protocol.Languages
	h.request(t, protocol.SubjectSessionLanguages, protocol.Languages{Source: "ja", Dest: "es"}, &langs)
	if langs.Source != "ja" || langs.Dest != "es" {
		t.Fatalf("unexpected pair %+v", langs)
	}

	var reply protocol.TranslateReply
	h.request(t, protocol.SubjectTextTranslate, protocol.TranslateRequest{Text: "konnichiwa"}, &reply)
	if reply.Translated != "[es] konnichiwa" || reply.Source != "ja" {
		t.Fatalf("expected updated pair applied, got %+v", reply)
	}
}

func TestSessionLifecycle(t *testing.T) {
	h := newHarness(t)

	states, err := h.client.SubscribeSync("interpret." + protocol.SubjectSessionState)
	if err != nil {
		t.Fatal(err)
	}
	if err := h.client.Flush(); err != nil {
		t.Fatal(err)
	}

	var started protocol.SessionReply
	h.request(t, protocol.SubjectSessionStart, protocol.SessionStart{SessionID: "alpha", Source: "en", Dest: "de", Direction: protocol.DirectionReverse}, &started)
	if started.Error != "" || started.State != "listening" || started.SessionID != "alpha" {
		t.Fatalf("unexpected start reply %+v", started)
	}
	if started.Source != "de" || started.Dest != "en" {
		t.Fatalf("reverse direction should swap the pair, got %s->%s", started.Source, started.Dest)
	}

	var again protocol.SessionReply
	h.request(t, protocol.SubjectSessionStart, protocol.SessionStart{SessionID: "alpha"}, &again)
	if again.Error != "" || again.SessionID != "alpha" {
		t.Fatalf("restarting the active session should be a no-op, got %+v", again)
	}

	var rejected protocol.SessionReply
	h.request(t, protocol.SubjectSessionStart, protocol.SessionStart{SessionID: "beta"}, &rejected)
	if rejected.Error == "" {
		t.Fatal("expected second session rejected")
	}

	var wrongStop protocol.SessionReply
	h.request(t, protocol.SubjectSessionStop, protocol.SessionStop{SessionID: "beta"}, &wrongStop)
	if wrongStop.Error == "" {
		t.Fatal("expected error stopping an inactive session id")
	}

	var stopped protocol.SessionReply
	h.request(t, protocol.SubjectSessionStop, protocol.SessionStop{}, &stopped)
	if stopped.State != "idle" || stopped.SessionID != "alpha" {
		t.Fatalf("unexpected stop reply %+v", stopped)
	}
	if h.pipe.ActiveSession() != nil {
		t.Fatal("expected no active session after stop")
	}

	var seen []string
	deadline := time.Now().Add(2 * time.Second)
	for len(seen) < 3 && time.Now().Before(deadline) {
		msg, err := states.NextMsg(time.Until(deadline))
		if err != nil {
			break
		}
		var st protocol.SessionState
		if err := json.Unmarshal(msg.Data, &st); err != nil {
			t.Fatal(err)
		}
		seen = append(seen, st.State)
	}
	if len(seen) != 3 || seen[0] != "listening" || seen[1] != "stopping" || seen[2] != "idle" {
		t.Fatalf("unexpected state transitions %v", seen)
	}
}

func TestRejectedStartKeepsLanguages(t *testing.T) {
	h := newHarness(t)

	var started protocol.SessionReply
	h.request(t, protocol.SubjectSessionStart, protocol.SessionStart{SessionID: "alpha", Source: "en", Dest: "de"}, &started)
	if started.Error != "" {
		t.Fatalf("unexpected start reply %+v", started)
	}
	t.Cleanup(func() {
		if s := h.pipe.ActiveSession(); s != nil {
			s.Stop()
		}
	})

	var rejected protocol.SessionReply
	h.request(t, protocol.SubjectSessionStart, protocol.SessionStart{SessionID: "beta", Source: "pt", Dest: "ko"}, &rejected)
	if rejected.Error == "" {
		t.Fatal("expected second session rejected")
	}
	if src, dst := h.svc.Languages(); src != "en" || dst != "de" {
		t.Fatalf("rejected start changed the live pair to %s->%s", src, dst)
	}
	if src, dst := h.pipe.ActiveSession().Languages(); src != "en" || dst != "de" {
		t.Fatalf("active session pair changed to %s->%s", src, dst)
	}
}
