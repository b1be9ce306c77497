// Package oracle binds the LLM oracle, an opaque text-in/text-out
// external collaborator, to a concrete client: the Anthropic API via
// anthropic-sdk-go. When no API key is configured, or the breaker is
// open, callers fall back to local heuristics — this package never
// forces C6/C7 to block on an unavailable collaborator.
package oracle

import (
	"context"
	"fmt"
	"math/rand"
	"strconv"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

// Response is the parsed result of an oracle call: analysis text,
// recommendations, a confidence score, and any model_updates the oracle
// reported.
type Response struct {
	Analysis        string
	Recommendations []string
	Confidence      float64
	ModelUpdates    map[string]any
	Simulated       bool
}

// Oracle is the narrow interface C6 (threat scoring) and C7 (antigen
// enrichment) depend on, so tests can substitute a stub without
// constructing a real client.
type Oracle interface {
	Analyze(ctx context.Context, prompt string, params Params) (Response, error)
}

// Params carries the request shape the oracle's consumed HTTP API
// expects: max_tokens, temperature, and free-form context.
type Params struct {
	MaxTokens   int
	Temperature float64
	Context     map[string]any
}

// Client wraps an anthropic-sdk-go client behind a circuit breaker, with
// a pseudo-random local fallback labeled "simulated_threat" when
// no API key is present or the breaker is open.
type Client struct {
	anthropic *anthropic.Client
	breaker   *gobreaker.CircuitBreaker
	model     string
	log       *zap.Logger
	enabled   bool
}

// New constructs an oracle Client. apiKey empty means the oracle is
// disabled and every call falls back to the local heuristic immediately.
func New(apiKey, model string, log *zap.Logger) *Client {
	c := &Client{model: model, log: log}
	if apiKey == "" {
		return c
	}
	client := anthropic.NewClient(option.WithAPIKey(apiKey))
	c.anthropic = &client
	c.enabled = true
	c.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "llm-oracle",
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
	})
	return c
}

// Analyze sends prompt to the oracle and parses THREAT_SCORE:/THREAT_TYPE:
// lines from the response. On any failure (disabled, breaker open, API
// error, non-200-equivalent) it returns a simulated response instead of
// propagating the error: oracle unavailability is a NetworkError that
// falls back to pattern-only scoring rather than failing the caller.
func (c *Client) Analyze(ctx context.Context, prompt string, params Params) (Response, error) {
	if !c.enabled {
		return simulate(), nil
	}

	result, err := c.breaker.Execute(func() (any, error) {
		msg, err := c.anthropic.Messages.New(ctx, anthropic.MessageNewParams{
			Model:     anthropic.Model(c.model),
			MaxTokens: int64(maxInt(params.MaxTokens, 256)),
			Messages: []anthropic.MessageParam{
				anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
			},
		})
		if err != nil {
			return nil, err
		}
		return msg, nil
	})
	if err != nil {
		if c.log != nil {
			c.log.Warn("oracle call failed, falling back to simulated threat score", zap.Error(err))
		}
		return simulate(), nil
	}

	msg := result.(*anthropic.Message)
	var text strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
			text.WriteString("\n")
		}
	}
	return parse(text.String()), nil
}

// parse extracts THREAT_SCORE: and THREAT_TYPE: lines from free-form
// oracle text.
func parse(text string) Response {
	resp := Response{Analysis: text, Confidence: 0}
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		switch {
		case strings.HasPrefix(line, "THREAT_SCORE:"):
			v := strings.TrimSpace(strings.TrimPrefix(line, "THREAT_SCORE:"))
			if f, err := strconv.ParseFloat(v, 64); err == nil {
				resp.Confidence = clamp01(f)
			}
		case strings.HasPrefix(line, "THREAT_TYPE:"):
			resp.ModelUpdates = map[string]any{
				"threat_type": strings.TrimSpace(strings.TrimPrefix(line, "THREAT_TYPE:")),
			}
		}
	}
	return resp
}

// simulate produces the "simulated_threat" placeholder used when no
// oracle is available.
func simulate() Response {
	return Response{
		Analysis:     "simulated_threat",
		Confidence:   rand.Float64(),
		Simulated:    true,
		ModelUpdates: map[string]any{"threat_type": "simulated_threat"},
	}
}

// ThreatType returns the oracle-reported threat type, defaulting to
// "simulated_threat" when none was parsed.
func (r Response) ThreatType() string {
	if v, ok := r.ModelUpdates["threat_type"].(string); ok && v != "" {
		return v
	}
	return "simulated_threat"
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

// BuildPrompt enumerates telemetry key/value pairs into a prompt asking
// the oracle for a THREAT_SCORE/THREAT_TYPE assessment.
func BuildPrompt(telemetry map[string]any) string {
	var b strings.Builder
	b.WriteString("Analyze the following telemetry for security threats:\n")
	for k, v := range telemetry {
		fmt.Fprintf(&b, "- %s: %v\n", k, v)
	}
	b.WriteString("Respond with THREAT_SCORE: <0-1> and THREAT_TYPE: <label>.\n")
	return b.String()
}
