package translate

import (
	"context"
	"errors"
)

// ErrUnsupportedPair is returned by backends that cannot serve a language pair.
var ErrUnsupportedPair = errors.New("unsupported language pair")

// Result is the backend output for one segment.
type Result struct {
	Text string
}

// Translator converts text between two language codes.
type Translator interface {
	Translate(ctx context.Context, text, source, dest string) (Result, error)
}
