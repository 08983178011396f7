package loader

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"
	"unicode/utf8"

	"github.com/kaptinlin/jsonrepair"
	"go.uber.org/zap"

	"optfilter/pkg/instrument"
)

const (
	DefaultAttempts = 5
	DefaultBackoff  = 2 * time.Second

	previewBytes = 200
)

var (
	ErrNotFound        = errors.New("input file not found")
	ErrUnreadableInput = errors.New("input file unreadable")
	ErrParse           = errors.New("input file could not be parsed")
)

// ParseError carries the decoder error and the start of the offending content.
type ParseError struct {
	Path    string
	Err     error
	Preview string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse %s: %v (content starts with %q)", e.Path, e.Err, e.Preview)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

func (e *ParseError) Is(target error) bool {
	return target == ErrParse
}

type Config struct {
	Attempts int
	Backoff  time.Duration
	// Repair runs a parse failure through jsonrepair once before giving up.
	Repair bool
}

// Loader reads an instrument collection that another process may still be
// writing. Empty or whitespace-only content is retried with a fixed backoff.
type Loader struct {
	Config *Config
	Logger *zap.Logger

	readFile func(string) ([]byte, error)
	sleep    func(context.Context, time.Duration) error
}

// NewLoader copies config before filling in defaults.
func NewLoader(config *Config, logger *zap.Logger) *Loader {
	var cfg Config
	if config != nil {
		cfg = *config
	}
	if cfg.Attempts < 1 {
		cfg.Attempts = DefaultAttempts
	}
	if cfg.Backoff < 0 {
		cfg.Backoff = DefaultBackoff
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Loader{
		Config:   &cfg,
		Logger:   logger,
		readFile: os.ReadFile,
		sleep:    sleepContext,
	}
}

func (l *Loader) Load(ctx context.Context, path string) ([]instrument.Record, error) {
	log := l.Logger.With(zap.String("path", path))

	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
		}
		return nil, fmt.Errorf("%w: %s: %v", ErrUnreadableInput, path, err)
	}

	if wd, err := os.Getwd(); err == nil {
		log.Debug("loading input", zap.String("cwd", wd), zap.Int64("size", info.Size()))
	}

	content, err := l.readStable(ctx, path, log)
	if err != nil {
		return nil, err
	}

	records, err := instrument.DecodeCollection(content)
	if err != nil && l.Config.Repair {
		records, err = l.repair(content, err, log)
	}
	if err != nil {
		return nil, &ParseError{Path: path, Err: err, Preview: preview(content)}
	}

	log.Info("loaded records", zap.Int("count", len(records)))
	return records, nil
}

func (l *Loader) readStable(ctx context.Context, path string, log *zap.Logger) ([]byte, error) {
	for attempt := 1; attempt <= l.Config.Attempts; attempt++ {
		content, err := l.readFile(path)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
			}
			return nil, fmt.Errorf("%w: %s: %v", ErrUnreadableInput, path, err)
		}

		if len(bytes.TrimSpace(content)) > 0 {
			log.Debug("read input",
				zap.Int("attempt", attempt),
				zap.Int("bytes", len(content)),
				zap.String("preview", preview(content)),
			)
			return content, nil
		}

		if attempt == l.Config.Attempts {
			break
		}

		log.Warn("input is empty, waiting for writer",
			zap.Int("attempt", attempt),
			zap.Int("attempts", l.Config.Attempts),
			zap.Duration("backoff", l.Config.Backoff),
		)
		if err := l.sleep(ctx, l.Config.Backoff); err != nil {
			return nil, err
		}
	}

	return nil, fmt.Errorf("%w: %s stayed empty after %d attempts", ErrUnreadableInput, path, l.Config.Attempts)
}

func (l *Loader) repair(content []byte, parseErr error, log *zap.Logger) ([]instrument.Record, error) {
	repaired, err := jsonrepair.JSONRepair(string(content))
	if err != nil {
		log.Warn("json repair failed", zap.Error(err))
		return nil, parseErr
	}

	records, err := instrument.DecodeCollection([]byte(repaired))
	if err != nil {
		return nil, parseErr
	}

	log.Warn("input was not valid json, using repaired content",
		zap.NamedError("parse_error", parseErr),
		zap.Int("count", len(records)),
	)
	return records, nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// preview cuts at a rune boundary so a multi-byte character is never split.
// Invalid bytes are passed through as they are.
func preview(content []byte) string {
	if len(content) <= previewBytes {
		return string(content)
	}
	cut := previewBytes
	for cut > previewBytes-utf8.UTFMax && !utf8.RuneStart(content[cut]) {
		cut--
	}
	return string(content[:cut]) + "..."
}
