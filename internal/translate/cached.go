package translate

import (
	"context"
	"log/slog"

	"github.com/loqalabs/loqa-interpret/internal/cache"
)

// Cached consults the translation cache before calling the wrapped backend
// and records every successful translation.
type Cached struct {
	next  Translator
	store *cache.Store
	log   *slog.Logger
}

func NewCached(next Translator, store *cache.Store, log *slog.Logger) Translator {
	if !store.Enabled() {
		return next
	}
	return &Cached{next: next, store: store, log: log.With(slog.String("component", "translation-cache"))}
}

func (c *Cached) Translate(ctx context.Context, text, source, dest string) (Result, error) {
	if hit, ok, err := c.store.Lookup(ctx, text, source, dest); err != nil {
		c.log.Warn("cache lookup failed", slog.String("error", err.Error()))
	} else if ok {
		return Result{Text: hit}, nil
	}
	res, err := c.next.Translate(ctx, text, source, dest)
	if err != nil {
		return Result{}, err
	}
	if err := c.store.Put(ctx, text, source, dest, res.Text); err != nil {
		c.log.Warn("cache store failed", slog.String("error", err.Error()))
	}
	return res, nil
}
