package filter

import (
	"errors"
	"fmt"
	"math"
	"slices"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"optfilter/pkg/instrument"
)

// Window is the expiry range (Start, End] in epoch milliseconds.
type Window struct {
	Start time.Time
	End   time.Time
}

// WindowAt returns the window starting at local midnight on the first day of
// the month containing now and ending three calendar months later.
func WindowAt(now time.Time) Window {
	start := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, now.Location())
	return Window{Start: start, End: start.AddDate(0, 3, 0)}
}

func (w Window) Contains(expiry *int64) bool {
	if expiry == nil {
		return false
	}
	return *expiry > w.Start.UnixMilli() && *expiry <= w.End.UnixMilli()
}

var ErrNonFinite = errors.New("not a finite number")

// Band is the inclusive strike range around a reference price. Bounds and
// strikes are compared as decimals, so 48250.35 - 3000 is exactly 45250.35.
type Band struct {
	Low  decimal.Decimal
	High decimal.Decimal
}

// NewBand fails for NaN or infinite inputs, which have no decimal form.
func NewBand(reference, radius float64) (Band, error) {
	if !finite(reference) {
		return Band{}, fmt.Errorf("reference price %v: %w", reference, ErrNonFinite)
	}
	if !finite(radius) {
		return Band{}, fmt.Errorf("strike radius %v: %w", radius, ErrNonFinite)
	}
	ref := decimal.NewFromFloat(reference)
	r := decimal.NewFromFloat(radius)
	return Band{Low: ref.Sub(r), High: ref.Add(r)}, nil
}

func (b Band) Contains(strike *float64) bool {
	if strike == nil || !finite(*strike) {
		return false
	}
	s := decimal.NewFromFloat(*strike)
	return s.GreaterThanOrEqual(b.Low) && s.LessThanOrEqual(b.High)
}

func finite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}

// Criteria configures a Pipeline.
type Criteria struct {
	Names  []string
	Radius float64
}

// Stats counts records at each stage of a Filter call.
type Stats struct {
	Input        int
	NameInWindow int
	Matched      int
}

type Pipeline struct {
	names  []string
	radius float64
	Logger *zap.Logger
}

func New(criteria Criteria, logger *zap.Logger) *Pipeline {
	if logger == nil {
		logger = zap.NewNop()
	}

	names := make([]string, 0, len(criteria.Names))
	for _, n := range criteria.Names {
		if n = strings.TrimSpace(n); n != "" {
			names = append(names, n)
		}
	}

	return &Pipeline{
		names:  names,
		radius: criteria.Radius,
		Logger: logger,
	}
}

// MatchName compares ASCII letters without case. Other bytes must match
// exactly, so the Kelvin sign U+212A does not match "K".
func (p *Pipeline) MatchName(name string) bool {
	for _, n := range p.names {
		if equalFoldASCII(n, name) {
			return true
		}
	}
	return false
}

func equalFoldASCII(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := 0; i < len(a); i++ {
		if lowerASCII(a[i]) != lowerASCII(b[i]) {
			return false
		}
	}
	return true
}

func lowerASCII(c byte) byte {
	if 'A' <= c && c <= 'Z' {
		return c + ('a' - 'A')
	}
	return c
}

// Filter returns the records matching name, expiry window and strike band,
// ordered by ascending expiry. Input records are never modified.
func (p *Pipeline) Filter(records []instrument.Record, reference float64, now time.Time) []instrument.Record {
	out, _ := p.FilterWithStats(records, reference, now)
	return out
}

func (p *Pipeline) FilterWithStats(records []instrument.Record, reference float64, now time.Time) ([]instrument.Record, Stats) {
	window := WindowAt(now)
	stats := Stats{Input: len(records)}

	band, err := NewBand(reference, p.radius)
	if err != nil {
		p.Logger.Warn("no strike band, nothing can match", zap.Error(err), zap.Int("input", stats.Input))
		return []instrument.Record{}, stats
	}

	// First pass: name and expiry
	candidates := make([]instrument.Record, 0)
	for _, r := range records {
		if p.MatchName(r.Name) && window.Contains(r.Expiry) {
			candidates = append(candidates, r)
		}
	}
	stats.NameInWindow = len(candidates)

	p.Logger.Debug("filtered by name and expiry",
		zap.Strings("names", p.names),
		zap.Time("window_start", window.Start),
		zap.Time("window_end", window.End),
		zap.Int("count", stats.NameInWindow),
	)

	// Second pass: strike band
	matched := make([]instrument.Record, 0, len(candidates))
	for _, r := range candidates {
		if band.Contains(r.StrikePrice) {
			matched = append(matched, r)
		}
	}
	stats.Matched = len(matched)

	p.Logger.Debug("filtered by strike band",
		zap.String("low", band.Low.String()),
		zap.String("high", band.High.String()),
		zap.Int("count", stats.Matched),
	)

	SortByExpiry(matched)
	return matched, stats
}

// SortByExpiry sorts in place, stable, with missing expiry first.
func SortByExpiry(records []instrument.Record) {
	slices.SortStableFunc(records, func(a, b instrument.Record) int {
		switch {
		case a.Expiry == nil && b.Expiry == nil:
			return 0
		case a.Expiry == nil:
			return -1
		case b.Expiry == nil:
			return 1
		case *a.Expiry < *b.Expiry:
			return -1
		case *a.Expiry > *b.Expiry:
			return 1
		}
		return 0
	})
}
