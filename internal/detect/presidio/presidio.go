// Package presidio is a pii.Recognizer backed by a Presidio analyzer service
// reached over HTTP. The analyzer reports offsets in Unicode code points;
// they are converted to byte offsets before leaving this package.
package presidio

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"transcript-pii-redactor/internal/logger"
	"transcript-pii-redactor/internal/pii"
)

// maxResponse caps how much of an analyzer response is read.
const maxResponse = 10 << 20

// DefaultEntities are the types the analyzer detects statistically or with
// its own recognizers. AGE, ADDRESS and CREDIT_CARD_PATTERN come from the
// local pattern recognizers.
var DefaultEntities = []string{
	"PERSON", "EMAIL_ADDRESS", "PHONE_NUMBER", "CREDIT_CARD", "IBAN_CODE",
	"US_BANK_NUMBER", "US_SSN", "US_PASSPORT", "US_DRIVER_LICENSE", "US_ITIN",
	"UK_NHS", "LOCATION", "DATE_TIME", "MEDICAL_LICENSE", "IP_ADDRESS", "URL",
	"CRYPTO",
}

// Config configures a Client.
type Config struct {
	URL            string
	Timeout        time.Duration
	ScoreThreshold float64
	// Entities is sent with every request; nil means DefaultEntities.
	Entities   []string
	HTTPClient *http.Client
	Logger     *logger.Logger
}

// Client calls the analyzer's /analyze endpoint.
type Client struct {
	baseURL   string
	entities  []string
	threshold float64
	http      *http.Client
	log       *logger.Logger
}

var _ pii.Recognizer = (*Client)(nil)

// New builds a Client and checks that the analyzer answers /health. An
// unreachable analyzer yields an error wrapping pii.ErrDetectionUnavailable.
func New(ctx context.Context, cfg Config) (*Client, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("%w: presidio url not configured", pii.ErrDetectionUnavailable)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	c := &Client{
		baseURL:   strings.TrimRight(cfg.URL, "/"),
		entities:  cfg.Entities,
		threshold: cfg.ScoreThreshold,
		http:      cfg.HTTPClient,
		log:       cfg.Logger,
	}
	if c.entities == nil {
		c.entities = DefaultEntities
	}
	if c.http == nil {
		c.http = &http.Client{Timeout: cfg.Timeout}
	}
	if c.log == nil {
		c.log = logger.New("PRESIDIO", "info")
	}

	if err := c.health(ctx); err != nil {
		return nil, fmt.Errorf("%w: %w", pii.ErrDetectionUnavailable, err)
	}
	c.log.Infof("presidio_init", "analyzer reachable at %s, %d entity types", c.baseURL, len(c.entities))
	return c, nil
}

func (c *Client) health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return fmt.Errorf("presidio: health request: %w", err)
	}
	resp, err := c.http.Do(req) // #nosec G107 -- URL from trusted config
	if err != nil {
		return fmt.Errorf("presidio: analyzer unreachable: %w", err)
	}
	defer resp.Body.Close() //nolint:errcheck // best-effort close on HTTP response body
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("presidio: health returned %d", resp.StatusCode)
	}
	return nil
}

// Name implements pii.Recognizer.
func (c *Client) Name() string { return "PresidioRecognizer" }

// SupportedEntities implements pii.Recognizer.
func (c *Client) SupportedEntities() []string { return c.entities }

type analyzeRequest struct {
	Text           string   `json:"text"`
	Language       string   `json:"language"`
	Entities       []string `json:"entities,omitempty"`
	ScoreThreshold float64  `json:"score_threshold,omitempty"`
}

type analyzerResult struct {
	EntityType string  `json:"entity_type"`
	Start      int     `json:"start"`
	End        int     `json:"end"`
	Score      float64 `json:"score"`
}

// Analyze implements pii.Recognizer. Transport failures and non-200
// responses are returned as errors; the engine's failure policy decides
// what happens to the document.
func (c *Client) Analyze(ctx context.Context, text, language string) ([]pii.Span, error) {
	if strings.TrimSpace(text) == "" {
		return nil, nil
	}
	body, err := json.Marshal(analyzeRequest{
		Text:           text,
		Language:       language,
		Entities:       c.entities,
		ScoreThreshold: c.threshold,
	})
	if err != nil {
		return nil, fmt.Errorf("presidio: marshal: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/analyze", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("presidio: request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := c.http.Do(req) // #nosec G107 -- URL from trusted config
	if err != nil {
		return nil, fmt.Errorf("presidio: analyze: %w", err)
	}
	defer resp.Body.Close() //nolint:errcheck // best-effort close on HTTP response body

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponse+1))
	if err != nil {
		return nil, fmt.Errorf("presidio: read body: %w", err)
	}
	if len(raw) > maxResponse {
		return nil, fmt.Errorf("presidio: response exceeds %d bytes", maxResponse)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("presidio: analyze returned %d: %s", resp.StatusCode, truncate(raw, 200))
	}

	var results []analyzerResult
	if err := json.Unmarshal(raw, &results); err != nil {
		return nil, fmt.Errorf("presidio: decode: %w", err)
	}

	offsets := runeOffsets(text)
	spans := make([]pii.Span, 0, len(results))
	for _, r := range results {
		if r.Start < 0 || r.End > len(offsets)-1 || r.Start >= r.End {
			c.log.Warnf("presidio_offsets", "dropping %s with out-of-range offsets [%d:%d]", r.EntityType, r.Start, r.End)
			continue
		}
		spans = append(spans, pii.Span{
			Start:      offsets[r.Start],
			End:        offsets[r.End],
			EntityType: r.EntityType,
			Score:      r.Score,
		})
	}
	c.log.Debugf("presidio_analyze", "len=%d results=%d in %s", len(text), len(spans), time.Since(start).Round(time.Millisecond))
	return spans, nil
}

// runeOffsets maps each code-point index of text to its byte offset. The
// final element is len(text), so an exclusive end index maps cleanly.
func runeOffsets(text string) []int {
	out := make([]int, 0, utf8.RuneCountInString(text)+1)
	for i := range text {
		out = append(out, i)
	}
	return append(out, len(text))
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
