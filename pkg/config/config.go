package config

import (
	"errors"
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type PriceMode string

const (
	PriceRemote PriceMode = "remote"
	PriceFixed  PriceMode = "fixed"
	PriceAlpaca PriceMode = "alpaca"
)

// Config holds everything the filter run needs. Nothing is read from
// globals after Load returns.
type Config struct {
	InputPath    string
	OutputPath   string
	Names        []string
	StrikeRadius float64

	Price PriceConfig

	ReadAttempts int
	ReadBackoff  time.Duration
	RepairJSON   bool

	LogLevel string
	LogDev   bool
}

type PriceConfig struct {
	Mode PriceMode
	// Fixed is the price for PriceFixed.
	Fixed *float64
	// Fallback replaces a failed remote or alpaca fetch. Nil means abort.
	Fallback *float64

	URL       string
	Referer   string
	UserAgent string
	Timeout   time.Duration

	AlpacaKey    string
	AlpacaSecret string
	AlpacaSymbol string
}

// Load reads configuration from the environment, after loading .env if present.
func Load() (*Config, error) {
	_ = godotenv.Load()

	var errs []error
	p := &parser{errs: &errs}

	cfg := &Config{
		InputPath:    getEnv("INPUT_PATH", "NSE.json"),
		OutputPath:   getEnv("OUTPUT_PATH", "banknifty.json"),
		Names:        splitList(getEnv("NAME_FILTER", "BANKNIFTY")),
		StrikeRadius: p.floatVal("STRIKE_RADIUS", 3000),
		Price: PriceConfig{
			Mode:         PriceMode(strings.ToLower(getEnv("PRICE_SOURCE", string(PriceRemote)))),
			Fixed:        p.optFloat("FIXED_PRICE"),
			Fallback:     p.optFloat("PRICE_FALLBACK"),
			URL:          getEnv("PRICE_URL", ""),
			Referer:      getEnv("PRICE_REFERER", ""),
			UserAgent:    getEnv("PRICE_USER_AGENT", ""),
			Timeout:      p.durationVal("FETCH_TIMEOUT", 10*time.Second),
			AlpacaKey:    getEnv("ALPACA_API_KEY", ""),
			AlpacaSecret: getEnv("ALPACA_SECRET_KEY", ""),
			AlpacaSymbol: getEnv("ALPACA_SYMBOL", ""),
		},
		ReadAttempts: p.intVal("READ_ATTEMPTS", 5),
		ReadBackoff:  p.durationVal("READ_BACKOFF", 2*time.Second),
		RepairJSON:   p.boolVal("REPAIR_PARTIAL_JSON", false),
		LogLevel:     getEnv("LOG_LEVEL", "info"),
		LogDev:       p.boolVal("LOG_DEV", false),
	}

	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks the configuration is usable
func (c *Config) Validate() error {
	var errs []error

	if c.InputPath == "" {
		errs = append(errs, errors.New("input path is empty"))
	}
	if c.OutputPath == "" {
		errs = append(errs, errors.New("output path is empty"))
	}
	if len(c.Names) == 0 {
		errs = append(errs, errors.New("name filter is empty"))
	}
	if !finite(c.StrikeRadius) {
		errs = append(errs, fmt.Errorf("strike radius %v is not a finite number", c.StrikeRadius))
	} else if c.StrikeRadius < 0 {
		errs = append(errs, fmt.Errorf("strike radius %v is negative", c.StrikeRadius))
	}
	if c.Price.Fixed != nil && !finite(*c.Price.Fixed) {
		errs = append(errs, fmt.Errorf("fixed price %v is not a finite number", *c.Price.Fixed))
	}
	if c.Price.Fallback != nil && !finite(*c.Price.Fallback) {
		errs = append(errs, fmt.Errorf("fallback price %v is not a finite number", *c.Price.Fallback))
	}
	if c.ReadAttempts < 1 {
		errs = append(errs, fmt.Errorf("read attempts %d must be at least 1", c.ReadAttempts))
	}
	if c.ReadBackoff < 0 {
		errs = append(errs, fmt.Errorf("read backoff %v is negative", c.ReadBackoff))
	}
	if c.Price.Timeout < 0 {
		errs = append(errs, fmt.Errorf("fetch timeout %v is negative", c.Price.Timeout))
	}

	switch c.Price.Mode {
	case PriceRemote:
	case PriceFixed:
		if c.Price.Fixed == nil {
			errs = append(errs, errors.New("PRICE_SOURCE=fixed needs FIXED_PRICE"))
		}
	case PriceAlpaca:
		if c.Price.AlpacaKey == "" || c.Price.AlpacaSecret == "" {
			errs = append(errs, errors.New("PRICE_SOURCE=alpaca needs ALPACA_API_KEY and ALPACA_SECRET_KEY"))
		}
		if c.Price.AlpacaSymbol == "" {
			errs = append(errs, errors.New("PRICE_SOURCE=alpaca needs ALPACA_SYMBOL"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown PRICE_SOURCE %q", c.Price.Mode))
	}

	return errors.Join(errs...)
}

// Helper functions
func getEnv(key, defaultValue string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return defaultValue
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func finite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}

// parser collects malformed values instead of silently using defaults.
type parser struct {
	errs *[]error
}

func (p *parser) fail(key, value string, err error) {
	*p.errs = append(*p.errs, fmt.Errorf("%s=%q: %w", key, value, err))
}

func (p *parser) floatVal(key string, def float64) float64 {
	if v := p.optFloat(key); v != nil {
		return *v
	}
	return def
}

func (p *parser) optFloat(key string) *float64 {
	value := getEnv(key, "")
	if value == "" {
		return nil
	}
	f, err := strconv.ParseFloat(value, 64)
	if err != nil {
		p.fail(key, value, err)
		return nil
	}
	if !finite(f) {
		p.fail(key, value, errors.New("not a finite number"))
		return nil
	}
	return &f
}

func (p *parser) intVal(key string, def int) int {
	value := getEnv(key, "")
	if value == "" {
		return def
	}
	i, err := strconv.Atoi(value)
	if err != nil {
		p.fail(key, value, err)
		return def
	}
	return i
}

func (p *parser) boolVal(key string, def bool) bool {
	value := getEnv(key, "")
	if value == "" {
		return def
	}
	b, err := strconv.ParseBool(value)
	if err != nil {
		p.fail(key, value, err)
		return def
	}
	return b
}

// durationVal accepts Go durations ("1500ms") or plain seconds ("2").
func (p *parser) durationVal(key string, def time.Duration) time.Duration {
	value := getEnv(key, "")
	if value == "" {
		return def
	}
	if secs, err := strconv.ParseFloat(value, 64); err == nil && finite(secs) {
		return time.Duration(secs * float64(time.Second))
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		p.fail(key, value, err)
		return def
	}
	return d
}
