package pipeline

// TranscriptChunk is a finalized piece of recognized text waiting for translation.
type TranscriptChunk struct {
	SessionID string
	Sequence  uint64
	Text      string
	Source    string
	Dest      string

	// OnResult, when set, is invoked on the translation worker after a
	// successful translation.
	OnResult func(TranslationResult)
}

// TranslationResult is the outcome of translating one chunk.
type TranslationResult struct {
	SessionID  string `json:"session_id,omitempty"`
	Sequence   uint64 `json:"sequence"`
	Translated string `json:"translated"`
	Original   string `json:"original"`
	Source     string `json:"source"`
	Dest       string `json:"dest"`
}

// SpeechJob is translated text waiting to be spoken.
type SpeechJob struct {
	SessionID string
	Sequence  uint64
	Text      string
	Lang      string
}
