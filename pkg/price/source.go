package price

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
)

var ErrFetch = errors.New("price fetch failed")

// FetchError wraps any failure to obtain a reference price.
type FetchError struct {
	Source string
	Err    error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("%s: %s: %v", ErrFetch, e.Source, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

func (e *FetchError) Is(target error) bool {
	return target == ErrFetch
}

// Source provides the reference price the strike band is built around.
type Source interface {
	Name() string
	Fetch(ctx context.Context) (float64, error)
}

// Fixed always returns the same price.
type Fixed float64

func (f Fixed) Name() string { return "fixed" }

func (f Fixed) Fetch(context.Context) (float64, error) {
	return float64(f), nil
}

// WithFallback substitutes a fixed price when the primary source fails.
type WithFallback struct {
	Primary  Source
	Fallback float64
	Logger   *zap.Logger
}

func (w *WithFallback) Name() string {
	return w.Primary.Name() + "+fallback"
}

func (w *WithFallback) Fetch(ctx context.Context) (float64, error) {
	p, err := w.Primary.Fetch(ctx)
	if err == nil {
		return p, nil
	}
	// Cancellation is not a source failure.
	if ctx.Err() != nil {
		return 0, ctx.Err()
	}

	logger := w.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	logger.Warn("price fetch failed, using fallback",
		zap.String("source", w.Primary.Name()),
		zap.Float64("fallback", w.Fallback),
		zap.Error(err),
	)
	return w.Fallback, nil
}
