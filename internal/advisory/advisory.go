package advisory

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

	"go.uber.org/zap"

	"benchguard.io/internal/anomaly"
	"benchguard.io/internal/obs"
)

const (
	defaultEndpoint = "https://api.openai.com/v1/chat/completions"
	defaultModel    = "gpt-4o-mini"
	defaultTimeout  = 20 * time.Second
	maxHighlights   = 5
	maxReplyBytes   = 1 << 20
)

// ErrUnavailable is returned for every failure of the advisory service.
var ErrUnavailable = errors.New("advisory: service temporarily unavailable")

// Config describes the chat-completions endpoint the advisor talks to.
type Config struct {
	Endpoint string        `koanf:"endpoint"`
	Model    string        `koanf:"model"`
	APIKey   string        `koanf:"api_key"`
	Timeout  time.Duration `koanf:"timeout"`
}

// Snapshot is the read-only digest submitted for advice. It carries counts and
// short reasons, never raw ledger rows.
type Snapshot struct {
	Summary    anomaly.Summary `json:"summary"`
	ByDetector map[string]int  `json:"by_detector"`
	ByRisk     map[string]int  `json:"by_risk"`
	Skipped    []string        `json:"skipped,omitempty"`
	Highlights []string        `json:"highlights,omitempty"`
}

// NewSnapshot digests a scan result.
func NewSnapshot(res anomaly.Result) Snapshot {
	snap := Snapshot{
		Summary:    res.Summary,
		ByDetector: map[string]int{},
		ByRisk:     map[string]int{},
	}
	for _, f := range res.Report.Flags {
		snap.ByDetector[string(f.Detector)]++
		snap.ByRisk[string(f.Risk)]++
		if f.Risk != anomaly.RiskInfo && len(snap.Highlights) < maxHighlights {
			snap.Highlights = append(snap.Highlights, fmt.Sprintf("[%s/%s] %s", f.Risk, f.Detector, f.Reason))
		}
	}
	for _, s := range res.Report.Skipped {
		snap.Skipped = append(snap.Skipped, string(s.Detector))
	}
	return snap
}

// Advice is the advisor's reply. Structured is false when the reply was not
// valid JSON and Headline holds the raw text.
type Advice struct {
	Headline        string    `json:"headline"`
	Risks           []string  `json:"risks"`
	Recommendations []string  `json:"recommendations"`
	Structured      bool      `json:"structured"`
	Model           string    `json:"model"`
	GeneratedAt     time.Time `json:"generated_at"`
}

// Client calls the advisory service. Its output is advisory only; nothing it
// returns is fed back into authorization or ledger state.
type Client struct {
	cfg  Config
	http *http.Client
	now  func() time.Time
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient overrides the transport.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.http = hc
		}
	}
}

func NewClient(cfg Config, opts ...Option) *Client {
	if cfg.Endpoint == "" {
		cfg.Endpoint = defaultEndpoint
	}
	if cfg.Model == "" {
		cfg.Model = defaultModel
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	c := &Client{cfg: cfg, http: http.DefaultClient, now: time.Now}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Enabled reports whether an API key is configured.
func (c *Client) Enabled() bool { return c.cfg.APIKey != "" }

// Report asks for advice on snap. Every failure is reported as ErrUnavailable.
func (c *Client) Report(ctx context.Context, snap Snapshot) (Advice, error) {
	content, err := c.complete(ctx, snap)
	if err != nil {
		obs.Logger().Warn("advisory request failed", zap.Error(err))
		return Advice{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	adv := parseAdvice(content)
	adv.Model = c.cfg.Model
	adv.GeneratedAt = c.now().UTC()
	return adv, nil
}

func (c *Client) complete(ctx context.Context, snap Snapshot) (string, error) {
	if c.cfg.APIKey == "" {
		return "", errors.New("missing API key")
	}
	digest, err := json.Marshal(snap)
	if err != nil {
		return "", err
	}
	payload := map[string]any{
		"model": c.cfg.Model,
		"messages": []map[string]string{
			{"role": "system", "content": "You are a forensic analyst for a repair-shop platform reviewing anomaly telemetry. " +
				`Reply with JSON only: {"headline": string, "risks": [string], "recommendations": [string]}.`},
			{"role": "user", "content": "Anomaly digest: " + string(digest) + ". Keep the headline under 20 words and give at most 3 risks and 3 recommendations."},
		},
		"temperature": 0.2,
	}
	buf, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}

	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.Endpoint, bytes.NewReader(buf))
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return "", fmt.Errorf("advisory error: %s", resp.Status)
	}
	var out struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxReplyBytes)).Decode(&out); err != nil {
		return "", err
	}
	if len(out.Choices) == 0 || strings.TrimSpace(out.Choices[0].Message.Content) == "" {
		return "", errors.New("no choices returned")
	}
	return out.Choices[0].Message.Content, nil
}

// parseAdvice accepts a JSON object, optionally wrapped in a code fence. Any
// other reply becomes an unstructured headline.
func parseAdvice(content string) Advice {
	text := strings.TrimSpace(content)
	body := text
	if strings.HasPrefix(body, "```") {
		body = strings.TrimPrefix(body, "```")
		if nl := strings.IndexByte(body, '\n'); nl >= 0 {
			body = body[nl+1:]
		}
		body = strings.TrimSuffix(strings.TrimSpace(body), "```")
	}
	if start, end := strings.IndexByte(body, '{'), strings.LastIndexByte(body, '}'); start >= 0 && end > start {
		var raw struct {
			Headline        string   `json:"headline"`
			Risks           []string `json:"risks"`
			Recommendations []string `json:"recommendations"`
		}
		if err := json.Unmarshal([]byte(body[start:end+1]), &raw); err == nil && strings.TrimSpace(raw.Headline) != "" {
			return Advice{
				Headline:        strings.TrimSpace(raw.Headline),
				Risks:           clean(raw.Risks),
				Recommendations: clean(raw.Recommendations),
				Structured:      true,
			}
		}
	}
	return Advice{Headline: text, Risks: []string{}, Recommendations: []string{}}
}

func clean(items []string) []string {
	out := make([]string, 0, len(items))
	for _, s := range items {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
