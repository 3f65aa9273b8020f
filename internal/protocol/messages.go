// Package protocol defines the JSON payloads exchanged on the control bus.
package protocol

import "time"

// Subject suffixes; the bridge prefixes them with the configured subject
// prefix, "interpret" by default.
const (
	SubjectSessionStart     = "session.start"
	SubjectSessionStop      = "session.stop"
	SubjectSessionLanguages = "session.languages"
	SubjectTextTranslate    = "text.translate"

	SubjectTranscriptPartial = "transcript.partial"
	SubjectTranscriptFinal   = "transcript.final"
	SubjectTranslation       = "translation.result"
	SubjectSpeechDone        = "speech.done"
	SubjectError             = "error"
	SubjectSessionState      = "session.state"
)

const (
	DirectionForward = "forward"
	DirectionReverse = "reverse"
)

// SessionStart asks the daemon to begin listening.
type SessionStart struct {
	SessionID string `json:"session_id,omitempty"`
	Source    string `json:"source,omitempty"`
	Dest      string `json:"dest,omitempty"`
	Direction string `json:"direction,omitempty"`
	Partials  *bool  `json:"partials,omitempty"`
}

// SessionStop asks the daemon to stop the active session.
type SessionStop struct {
	SessionID string `json:"session_id,omitempty"`
}

// SessionReply answers start and stop requests.
type SessionReply struct {
	SessionID string `json:"session_id,omitempty"`
	State     string `json:"state"`
	Source    string `json:"source,omitempty"`
	Dest      string `json:"dest,omitempty"`
	Error     string `json:"error,omitempty"`
}

// Languages changes the pair used by the live session.
type Languages struct {
	Source string `json:"source"`
	Dest   string `json:"dest"`
}

// TranslateRequest is a direct text translation.
type TranslateRequest struct {
	Text   string `json:"text"`
	Source string `json:"source,omitempty"`
	Dest   string `json:"dest,omitempty"`
	Speak  bool   `json:"speak,omitempty"`
}

// TranslateReply answers a TranslateRequest.
type TranslateReply struct {
	Translated string `json:"translated,omitempty"`
	Original   string `json:"original,omitempty"`
	Source     string `json:"source,omitempty"`
	Dest       string `json:"dest,omitempty"`
	Error      string `json:"error,omitempty"`
}

// Transcript is published for partial and final recognition results.
type Transcript struct {
	SessionID string    `json:"session_id"`
	Sequence  uint64    `json:"sequence,omitempty"`
	Text      string    `json:"text"`
	Partial   bool      `json:"partial"`
	Source    string    `json:"source,omitempty"`
	Dest      string    `json:"dest,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Translation is published for every successful translation.
type Translation struct {
	SessionID  string    `json:"session_id,omitempty"`
	Sequence   uint64    `json:"sequence,omitempty"`
	Translated string    `json:"translated"`
	Original   string    `json:"original"`
	Source     string    `json:"source"`
	Dest       string    `json:"dest"`
	Timestamp  time.Time `json:"timestamp"`
}

// SpeechDone is published once an utterance has finished playing.
type SpeechDone struct {
	SessionID string    `json:"session_id,omitempty"`
	Sequence  uint64    `json:"sequence,omitempty"`
	Text      string    `json:"text"`
	Lang      string    `json:"lang"`
	Timestamp time.Time `json:"timestamp"`
}

// Failure is published when a stage drops a job.
type Failure struct {
	SessionID string    `json:"session_id,omitempty"`
	Stage     string    `json:"stage"`
	Error     string    `json:"error"`
	Timestamp time.Time `json:"timestamp"`
}

// SessionState is published on every session transition.
type SessionState struct {
	SessionID string    `json:"session_id"`
	State     string    `json:"state"`
	Timestamp time.Time `json:"timestamp"`
}
