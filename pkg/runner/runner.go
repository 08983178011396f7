package runner

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"optfilter/pkg/config"
	"optfilter/pkg/filter"
	"optfilter/pkg/loader"
	"optfilter/pkg/output"
	"optfilter/pkg/price"
)

// Summary describes one completed run.
type Summary struct {
	RunID        string        `json:"run_id"`
	PriceSource  string        `json:"price_source"`
	Price        float64       `json:"price"`
	WindowStart  time.Time     `json:"window_start"`
	WindowEnd    time.Time     `json:"window_end"`
	Loaded       int           `json:"loaded"`
	NameInWindow int           `json:"name_in_window"`
	Matched      int           `json:"matched"`
	OutputPath   string        `json:"output_path"`
	Elapsed      time.Duration `json:"elapsed"`
}

// Runner wires fetch -> load -> filter -> write for one configuration.
type Runner struct {
	Config *config.Config
	Source price.Source
	Loader *loader.Loader
	Filter *filter.Pipeline
	Logger *zap.Logger
	Now    func() time.Time
}

func New(cfg *config.Config, logger *zap.Logger) (*Runner, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	source, err := NewSource(&cfg.Price, logger)
	if err != nil {
		return nil, err
	}

	return &Runner{
		Config: cfg,
		Source: source,
		Loader: loader.NewLoader(&loader.Config{
			Attempts: cfg.ReadAttempts,
			Backoff:  cfg.ReadBackoff,
			Repair:   cfg.RepairJSON,
		}, logger),
		Filter: filter.New(filter.Criteria{
			Names:  cfg.Names,
			Radius: cfg.StrikeRadius,
		}, logger),
		Logger: logger,
		Now:    time.Now,
	}, nil
}

// NewSource builds the configured price source, wrapped with the fallback
// price when one is set.
func NewSource(pc *config.PriceConfig, logger *zap.Logger) (price.Source, error) {
	var source price.Source

	switch pc.Mode {
	case config.PriceFixed:
		if pc.Fixed == nil {
			return nil, fmt.Errorf("fixed price source without a price")
		}
		return price.Fixed(*pc.Fixed), nil
	case config.PriceAlpaca:
		source = price.NewAlpaca(pc.AlpacaKey, pc.AlpacaSecret, pc.AlpacaSymbol, logger)
	case config.PriceRemote, "":
		source = price.NewNSEClient(&price.NSEConfig{
			ApiUrl:    pc.URL,
			Referer:   pc.Referer,
			UserAgent: pc.UserAgent,
			Timeout:   pc.Timeout,
		}, logger)
	default:
		return nil, fmt.Errorf("unknown price source %q", pc.Mode)
	}

	if pc.Fallback != nil {
		return &price.WithFallback{Primary: source, Fallback: *pc.Fallback, Logger: logger}, nil
	}
	return source, nil
}

func (r *Runner) Run(ctx context.Context) (*Summary, error) {
	started := time.Now()
	summary := &Summary{
		RunID:       uuid.NewString(),
		PriceSource: r.Source.Name(),
		OutputPath:  r.Config.OutputPath,
	}
	log := r.Logger.With(zap.String("run_id", summary.RunID))

	p, err := r.Source.Fetch(ctx)
	if err != nil {
		return nil, err
	}
	summary.Price = p
	log.Info("reference price", zap.String("source", summary.PriceSource), zap.Float64("price", p))

	records, err := r.Loader.Load(ctx, r.Config.InputPath)
	if err != nil {
		return nil, err
	}
	summary.Loaded = len(records)

	now := r.Now()
	window := filter.WindowAt(now)
	summary.WindowStart, summary.WindowEnd = window.Start, window.End

	matched, stats := r.Filter.FilterWithStats(records, p, now)
	summary.NameInWindow = stats.NameInWindow
	summary.Matched = stats.Matched

	log.Info("filtered records",
		zap.Int("loaded", summary.Loaded),
		zap.Int("name_in_window", summary.NameInWindow),
		zap.Int("matched", summary.Matched),
	)

	if err := output.WriteJSON(r.Config.OutputPath, matched); err != nil {
		return nil, err
	}

	summary.Elapsed = time.Since(started)
	log.Info("wrote output", zap.String("path", r.Config.OutputPath), zap.Int("count", summary.Matched))
	return summary, nil
}
