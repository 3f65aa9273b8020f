// Package bridge exposes the pipeline on the NATS bus: request subjects to
// control sessions and translate text, and published subjects carrying
// pipeline events.
package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/loqalabs/loqa-interpret/internal/bus"
	"github.com/loqalabs/loqa-interpret/internal/config"
	"github.com/loqalabs/loqa-interpret/internal/pipeline"
	"github.com/loqalabs/loqa-interpret/internal/protocol"
	"github.com/nats-io/nats.go"
)

type Service struct {
	cfg    config.BridgeConfig
	bus    *bus.Client
	pipe   *pipeline.Pipeline
	logger *slog.Logger
	subs   []*nats.Subscription
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.Mutex
	source string
	dest   string
}

func NewService(parent context.Context, cfg config.BridgeConfig, busClient *bus.Client, pipe *pipeline.Pipeline, log *slog.Logger) *Service {
	ctx, cancel := context.WithCancel(parent)
	pcfg := pipe.Config()
	return &Service{
		cfg:    cfg,
		bus:    busClient,
		pipe:   pipe,
		logger: log.With(slog.String("component", "bridge")),
		ctx:    ctx,
		cancel: cancel,
		source: pcfg.Translation.SourceLang,
		dest:   pcfg.Translation.DestLang,
	}
}

func (s *Service) subject(suffix string) string {
	return s.cfg.SubjectPrefix + "." + suffix
}

func (s *Service) Start() error {
	if !s.cfg.Enabled {
		return nil
	}
	handlers := []struct {
		suffix  string
		handler nats.MsgHandler
	}{
		{protocol.SubjectSessionStart, s.handleStart},
		{protocol.SubjectSessionStop, s.handleStop},
		{protocol.SubjectSessionLanguages, s.handleLanguages},
		{protocol.SubjectTextTranslate, s.handleTranslate},
	}
	for _, h := range handlers {
		sub, err := s.bus.Conn().Subscribe(s.subject(h.suffix), h.handler)
		if err != nil {
			s.drain()
			return fmt.Errorf("subscribe %s: %w", h.suffix, err)
		}
		s.subs = append(s.subs, sub)
	}

	events, unsubscribe := s.pipe.Events().Subscribe(256)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer unsubscribe()
		s.forward(events)
	}()
	s.logger.Info("bridge listening", slog.String("prefix", s.cfg.SubjectPrefix))
	return nil
}

func (s *Service) Close() {
	s.cancel()
	s.drain()
	s.wg.Wait()
}

func (s *Service) drain() {
	for _, sub := range s.subs {
		_ = sub.Drain()
	}
	s.subs = nil
}

func (s *Service) Healthy() bool { return !s.cfg.Enabled || len(s.subs) == 4 }

// Languages returns the pair live sessions translate with.
func (s *Service) Languages() (source, dest string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.source, s.dest
}

func (s *Service) setLanguages(source, dest string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if source != "" {
		s.source = source
	}
	if dest != "" {
		s.dest = dest
	}
}

func (s *Service) handleStart(msg *nats.Msg) {
	var req protocol.SessionStart
	if err := decode(msg.Data, &req); err != nil {
		s.logger.Warn("failed to decode session start", slogError(err))
		s.respond(msg, protocol.SessionReply{State: pipeline.StateIdle.String(), Error: err.Error()})
		return
	}
	if active := s.pipe.ActiveSession(); active != nil && (req.SessionID == "" || req.SessionID == active.ID()) {
		src, dst := active.Languages()
		s.respond(msg, protocol.SessionReply{SessionID: active.ID(), State: active.State().String(), Source: src, Dest: dst})
		return
	}

	opts := s.pipe.DefaultSessionOptions()
	opts.ID = req.SessionID
	opts.Languages = s.Languages
	opts.Swap = req.Direction == protocol.DirectionReverse
	if req.Partials != nil {
		opts.Partials = *req.Partials
	}
	session := s.pipe.NewSession(opts)
	if err := session.Start(); err != nil {
		s.logger.Warn("session start rejected", slog.String("session_id", session.ID()), slogError(err))
		s.respond(msg, protocol.SessionReply{SessionID: session.ID(), State: session.State().String(), Error: err.Error()})
		return
	}
	// the first chunk is finalized a full poll interval after Start
	s.setLanguages(req.Source, req.Dest)
	src, dst := session.Languages()
	s.respond(msg, protocol.SessionReply{SessionID: session.ID(), State: session.State().String(), Source: src, Dest: dst})
}

func (s *Service) handleStop(msg *nats.Msg) {
	var req protocol.SessionStop
	if err := decode(msg.Data, &req); err != nil {
		s.logger.Warn("failed to decode session stop", slogError(err))
		s.respond(msg, protocol.SessionReply{State: pipeline.StateIdle.String(), Error: err.Error()})
		return
	}
	active := s.pipe.ActiveSession()
	if active == nil {
		s.respond(msg, protocol.SessionReply{SessionID: req.SessionID, State: pipeline.StateIdle.String()})
		return
	}
	if req.SessionID != "" && req.SessionID != active.ID() {
		s.respond(msg, protocol.SessionReply{
			SessionID: req.SessionID,
			State:     pipeline.StateIdle.String(),
			Error:     fmt.Sprintf("session %s is not active", req.SessionID),
		})
		return
	}
	active.Stop()
	s.respond(msg, protocol.SessionReply{SessionID: active.ID(), State: active.State().String()})
}

func (s *Service) handleLanguages(msg *nats.Msg) {
	var req protocol.Languages
	if err := json.Unmarshal(msg.Data, &req); err != nil {
		s.logger.Warn("failed to decode languages", slogError(err))
		return
	}
	s.setLanguages(req.Source, req.Dest)
	source, dest := s.Languages()
	s.logger.Info("language pair updated", slog.String("source", source), slog.String("dest", dest))
	if msg.Reply != "" {
		s.respond(msg, protocol.Languages{Source: source, Dest: dest})
	}
}

func (s *Service) handleTranslate(msg *nats.Msg) {
	var req protocol.TranslateRequest
	if err := json.Unmarshal(msg.Data, &req); err != nil {
		s.logger.Warn("failed to decode translate request", slogError(err))
		s.respond(msg, protocol.TranslateReply{Error: err.Error()})
		return
	}
	source, dest := s.Languages()
	if req.Source != "" {
		source = req.Source
	}
	if req.Dest != "" {
		dest = req.Dest
	}
	res, err := s.pipe.TranslateText(s.ctx, req.Text, source, dest, req.Speak)
	if err != nil && res.Translated == "" {
		s.respond(msg, protocol.TranslateReply{Original: req.Text, Source: source, Dest: dest, Error: err.Error()})
		return
	}
	reply := protocol.TranslateReply{Translated: res.Translated, Original: res.Original, Source: res.Source, Dest: res.Dest}
	if err != nil {
		reply.Error = err.Error()
	}
	s.respond(msg, reply)
}

func (s *Service) respond(msg *nats.Msg, payload any) {
	if msg.Reply == "" {
		return
	}
	data, err := json.Marshal(payload)
	if err != nil {
		s.logger.Warn("failed to marshal reply", slogError(err))
		return
	}
	if err := msg.Respond(data); err != nil {
		s.logger.Warn("failed to send reply", slogError(err))
	}
}

// forward republishes pipeline events until the hub closes or the service stops.
func (s *Service) forward(events <-chan pipeline.Event) {
	for {
		select {
		case <-s.ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			subject, payload := s.encodeEvent(ev)
			if subject == "" {
				continue
			}
			if err := s.bus.PublishJSON(subject, payload); err != nil {
				s.logger.Warn("failed to publish event", slog.String("subject", subject), slogError(err))
			}
		}
	}
}

func (s *Service) encodeEvent(ev pipeline.Event) (string, any) {
	ts := ev.Time
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	switch ev.Kind {
	case pipeline.EventPartial:
		return s.subject(protocol.SubjectTranscriptPartial), protocol.Transcript{
			SessionID: ev.SessionID, Text: ev.Text, Partial: true, Source: ev.Source, Timestamp: ts,
		}
	case pipeline.EventTranscript:
		return s.subject(protocol.SubjectTranscriptFinal), protocol.Transcript{
			SessionID: ev.SessionID, Sequence: ev.Sequence, Text: ev.Text, Source: ev.Source, Dest: ev.Dest, Timestamp: ts,
		}
	case pipeline.EventTranslation:
		return s.subject(protocol.SubjectTranslation), protocol.Translation{
			SessionID: ev.SessionID, Sequence: ev.Sequence, Translated: ev.Text, Original: ev.Original,
			Source: ev.Source, Dest: ev.Dest, Timestamp: ts,
		}
	case pipeline.EventSpeech:
		return s.subject(protocol.SubjectSpeechDone), protocol.SpeechDone{
			SessionID: ev.SessionID, Sequence: ev.Sequence, Text: ev.Text, Lang: ev.Dest, Timestamp: ts,
		}
	case pipeline.EventError:
		return s.subject(protocol.SubjectError), protocol.Failure{
			SessionID: ev.SessionID, Stage: ev.Stage, Error: ev.Err, Timestamp: ts,
		}
	case pipeline.EventSession:
		return s.subject(protocol.SubjectSessionState), protocol.SessionState{
			SessionID: ev.SessionID, State: ev.State, Timestamp: ts,
		}
	}
	return "", nil
}

// decode accepts an empty payload as the zero request.
func decode(data []byte, v any) error {
	if len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, v); err != nil {
		return errors.Join(errors.New("invalid request"), err)
	}
	return nil
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
