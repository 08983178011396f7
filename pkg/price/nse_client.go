package price

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"
)

const (
	DefaultNSEUrl     string = "https://www.nseindia.com/api/option-chain-indices?symbol=BANKNIFTY"
	DefaultNSEReferer string = "https://www.nseindia.com/option-chain"
	DefaultUserAgent  string = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/91.0.4472.124 Safari/537.36"
)

const DefaultTimeout = 10 * time.Second

type HTTPError struct {
	StatusCode int
	Status     string
	Err        error
}

func NewHTTPError(statusCode int, err error) *HTTPError {
	return &HTTPError{
		StatusCode: statusCode,
		Status:     http.StatusText(statusCode),
		Err:        err,
	}
}

func (e *HTTPError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%d %s: %v", e.StatusCode, e.Status, e.Err)
	}
	return fmt.Sprintf("%d %s", e.StatusCode, e.Status)
}

func (e *HTTPError) Unwrap() error {
	return e.Err
}

type NSEConfig struct {
	ApiUrl    string
	Referer   string
	UserAgent string
	Timeout   time.Duration
}

// NSEClient reads records.underlyingValue from the option chain endpoint.
type NSEClient struct {
	Config *NSEConfig
	Client *http.Client
	Logger *zap.Logger
}

func NewNSEClient(config *NSEConfig, logger *zap.Logger) *NSEClient {
	var cfg NSEConfig
	if config != nil {
		cfg = *config
	}
	if cfg.ApiUrl == "" {
		cfg.ApiUrl = DefaultNSEUrl
	}
	if cfg.Referer == "" {
		cfg.Referer = DefaultNSEReferer
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = DefaultUserAgent
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &NSEClient{
		Config: &cfg,
		Client: &http.Client{Timeout: cfg.Timeout},
		Logger: logger,
	}
}

func (c *NSEClient) Name() string { return "nse" }

type optionChainResponse struct {
	Records *struct {
		UnderlyingValue json.RawMessage `json:"underlyingValue"`
	} `json:"records"`
}

func (c *NSEClient) Fetch(ctx context.Context) (float64, error) {
	p, err := c.fetch(ctx)
	if err != nil {
		return 0, &FetchError{Source: c.Name(), Err: err}
	}
	return p, nil
}

func (c *NSEClient) fetch(ctx context.Context) (float64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.Config.ApiUrl, nil)
	if err != nil {
		return 0, err
	}
	req.Header.Set("User-Agent", c.Config.UserAgent)
	req.Header.Set("Referer", c.Config.Referer)
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	res, err := c.Client.Do(req)
	if err != nil {
		return 0, err
	}
	defer res.Body.Close()

	body, err := io.ReadAll(res.Body)
	if err != nil {
		return 0, err
	}

	c.Logger.Debug("price response",
		zap.String("url", c.Config.ApiUrl),
		zap.Int("status", res.StatusCode),
		zap.Int("bytes", len(body)),
		zap.Duration("elapsed", time.Since(start)),
	)

	if res.StatusCode != http.StatusOK {
		return 0, NewHTTPError(res.StatusCode, describeBody(res.Header.Get("Content-Type"), body))
	}

	var payload optionChainResponse
	if err := json.Unmarshal(body, &payload); err != nil {
		if d := describeBody(res.Header.Get("Content-Type"), body); d != nil {
			return 0, fmt.Errorf("decode response: %w (%v)", err, d)
		}
		return 0, fmt.Errorf("decode response: %w", err)
	}

	if payload.Records == nil || len(payload.Records.UnderlyingValue) == 0 || string(payload.Records.UnderlyingValue) == "null" {
		return 0, errors.New("records.underlyingValue missing from response")
	}

	var p float64
	if err := json.Unmarshal(payload.Records.UnderlyingValue, &p); err != nil {
		return 0, fmt.Errorf("records.underlyingValue is not a number: %s", payload.Records.UnderlyingValue)
	}
	return p, nil
}

// describeBody summarises a non-json body. Blocked requests usually get an
// html page back, and its title is the useful part.
func describeBody(contentType string, body []byte) error {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return nil
	}

	if strings.Contains(contentType, "html") || trimmed[0] == '<' {
		doc, err := goquery.NewDocumentFromReader(bytes.NewReader(trimmed))
		if err == nil {
			if title := strings.TrimSpace(doc.Find("title").First().Text()); title != "" {
				return fmt.Errorf("html page %q", title)
			}
		}
		return errors.New("html page")
	}

	if len(trimmed) > 120 {
		trimmed = trimmed[:120]
	}
	return fmt.Errorf("body %q", trimmed)
}
