// Package ollama is a pii.Recognizer that asks a local Ollama model for
// personal data in a transcript.
//
// The model returns the sensitive strings verbatim rather than offsets;
// small models get offsets wrong. Every occurrence of each returned string
// is then located in the original text.
package ollama

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"transcript-pii-redactor/internal/logger"
	"transcript-pii-redactor/internal/pii"
)

const maxResponse = 10 << 20 // 10 MB

// typeEntities maps the detection types the prompt allows to entity codes.
var typeEntities = map[string]string{
	"name":       pii.EntityPerson,
	"person":     pii.EntityPerson,
	"email":      pii.EntityEmail,
	"phone":      pii.EntityPhone,
	"location":   pii.EntityLocation,
	"address":    pii.EntityAddress,
	"date":       pii.EntityDateTime,
	"creditcard": pii.EntityCreditCard,
}

// Config configures a Client.
type Config struct {
	URL   string
	Model string
	// Threshold drops detections whose reported confidence is lower.
	Threshold float64
	Timeout   time.Duration
	// Concurrency bounds in-flight model calls; values below 1 mean 1.
	Concurrency int
	HTTPClient  *http.Client
	Logger      *logger.Logger
}

// Client calls Ollama's /api/generate endpoint.
type Client struct {
	baseURL   string
	model     string
	threshold float64
	sem       chan struct{}
	http      *http.Client
	log       *logger.Logger
}

var _ pii.Recognizer = (*Client)(nil)

// New builds a Client and checks that the Ollama server answers. Failure
// yields an error wrapping pii.ErrDetectionUnavailable.
func New(ctx context.Context, cfg Config) (*Client, error) {
	if cfg.URL == "" || cfg.Model == "" {
		return nil, fmt.Errorf("%w: ollama url and model are required", pii.ErrDetectionUnavailable)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	c := &Client{
		baseURL:   strings.TrimRight(cfg.URL, "/"),
		model:     cfg.Model,
		threshold: cfg.Threshold,
		sem:       make(chan struct{}, max(1, cfg.Concurrency)),
		http:      cfg.HTTPClient,
		log:       cfg.Logger,
	}
	if c.http == nil {
		c.http = &http.Client{Timeout: cfg.Timeout}
	}
	if c.log == nil {
		c.log = logger.New("OLLAMA", "info")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/tags", nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", pii.ErrDetectionUnavailable, err)
	}
	resp, err := c.http.Do(req) // #nosec G107 -- URL from trusted config
	if err != nil {
		return nil, fmt.Errorf("%w: ollama unreachable: %w", pii.ErrDetectionUnavailable, err)
	}
	resp.Body.Close() //nolint:errcheck // body unused
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: ollama returned %d", pii.ErrDetectionUnavailable, resp.StatusCode)
	}
	c.log.Infof("ollama_init", "model %s at %s", c.model, c.baseURL)
	return c, nil
}

// Name implements pii.Recognizer.
func (c *Client) Name() string { return "OllamaRecognizer" }

// SupportedEntities implements pii.Recognizer.
func (c *Client) SupportedEntities() []string {
	return []string{
		pii.EntityPerson, pii.EntityEmail, pii.EntityPhone, pii.EntityLocation,
		pii.EntityAddress, pii.EntityDateTime, pii.EntityCreditCard,
	}
}

type generateRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
	Stream bool   `json:"stream"`
	Format string `json:"format,omitempty"`
}

type generateResponse struct {
	Response string `json:"response"`
}

type detection struct {
	Original   string  `json:"original"`
	Type       string  `json:"type"`
	Confidence float64 `json:"confidence"`
}

const promptTemplate = `Find personal information in the following interview transcript.
Return ONLY a JSON array. Each item must have:
- "original": the exact text as it appears in the transcript
- "type": one of: name, email, phone, location, address, date, creditCard
- "confidence": float 0.0-1.0

Do not report text inside square-bracket tokens such as [PERSON_1/...].

Transcript:
%s

Return ONLY the JSON array, no explanation. Example: [{"original":"John Smith","type":"name","confidence":0.95}]`

// Analyze implements pii.Recognizer.
func (c *Client) Analyze(ctx context.Context, text, _ string) ([]pii.Span, error) {
	if strings.TrimSpace(text) == "" {
		return nil, nil
	}

	select {
	case c.sem <- struct{}{}:
		defer func() { <-c.sem }()
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	detections, err := c.generate(ctx, text)
	if err != nil {
		return nil, err
	}

	var spans []pii.Span
	for _, d := range detections {
		entity, ok := typeEntities[strings.ToLower(d.Type)]
		if !ok || d.Confidence < c.threshold {
			continue
		}
		for _, loc := range locate(text, d.Original) {
			spans = append(spans, pii.Span{Start: loc[0], End: loc[1], EntityType: entity, Score: d.Confidence})
		}
	}
	c.log.Debugf("ollama_analyze", "len=%d detections=%d spans=%d", len(text), len(detections), len(spans))
	return spans, nil
}

func (c *Client) generate(ctx context.Context, text string) ([]detection, error) {
	body, err := json.Marshal(generateRequest{
		Model:  c.model,
		Prompt: fmt.Sprintf(promptTemplate, text),
		Stream: false,
		Format: "json",
	})
	if err != nil {
		return nil, fmt.Errorf("ollama: marshal: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/generate", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("ollama: request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req) // #nosec G107 -- URL from trusted config
	if err != nil {
		return nil, fmt.Errorf("ollama: generate: %w", err)
	}
	defer resp.Body.Close() //nolint:errcheck // best-effort close on HTTP response body

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponse+1))
	if err != nil {
		return nil, fmt.Errorf("ollama: read body: %w", err)
	}
	if len(raw) > maxResponse {
		return nil, fmt.Errorf("ollama: response exceeds %d bytes", maxResponse)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("ollama: generate returned %d", resp.StatusCode)
	}

	var gen generateResponse
	if err := json.Unmarshal(raw, &gen); err != nil {
		return nil, fmt.Errorf("ollama: decode response: %w", err)
	}
	return parseDetections(gen.Response)
}

// parseDetections pulls the JSON array out of the model's free-text answer.
// Models wrap it in think blocks, code fences or a top-level object.
func parseDetections(answer string) ([]detection, error) {
	s := stripThinkBlock(strings.TrimSpace(answer))

	var wrapped struct {
		Detections []detection `json:"detections"`
	}
	if strings.HasPrefix(s, "{") && json.Unmarshal([]byte(s), &wrapped) == nil && wrapped.Detections != nil {
		return wrapped.Detections, nil
	}

	start := strings.Index(s, "[")
	end := strings.LastIndex(s, "]")
	if start == -1 || end <= start {
		return nil, fmt.Errorf("ollama: no JSON array in response")
	}
	var out []detection
	if err := json.Unmarshal([]byte(s[start:end+1]), &out); err != nil {
		return nil, fmt.Errorf("ollama: parse detections: %w", err)
	}
	return out, nil
}

func stripThinkBlock(s string) string {
	const open, closeTag = "<think>", "</think>"
	start := strings.Index(s, open)
	if start < 0 {
		return s
	}
	end := strings.Index(s, closeTag)
	if end < 0 {
		return strings.TrimSpace(s[:start])
	}
	return strings.TrimSpace(s[:start] + s[end+len(closeTag):])
}

// locate returns the byte ranges of every occurrence of value in text that
// is not part of a longer word.
func locate(text, value string) [][2]int {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil
	}
	var out [][2]int
	from := 0
	for {
		i := strings.Index(text[from:], value)
		if i < 0 {
			return out
		}
		start := from + i
		end := start + len(value)
		if !insideWord(text, start, end) {
			out = append(out, [2]int{start, end})
		}
		from = end
	}
}

func insideWord(text string, start, end int) bool {
	if start > 0 && !isBoundary(text[start-1]) {
		return true
	}
	return end < len(text) && !isBoundary(text[end])
}

func isBoundary(b byte) bool {
	switch b {
	case ' ', '\t', '\n', '\r', ',', ';', ':', '.', '!', '?', '(', ')', '[', ']', '{', '}', '"', '\'', '/', '-':
		return true
	}
	return false
}
