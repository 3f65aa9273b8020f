package translate

import (
	"context"
	"fmt"
	"strings"
)

type mockTranslator struct{}

// NewMockTranslator tags the text with the destination language.
func NewMockTranslator() Translator { return mockTranslator{} }

func (mockTranslator) Translate(ctx context.Context, text, source, dest string) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}
	if source == "" || dest == "" {
		return Result{}, fmt.Errorf("%w: %q -> %q", ErrUnsupportedPair, source, dest)
	}
	return Result{Text: fmt.Sprintf("[%s] %s", dest, strings.TrimSpace(text))}, nil
}
