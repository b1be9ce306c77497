package threat

import (
	"context"
	"testing"

	"github.com/dreamware/sentinel/internal/oracle"
)

type fakeOracle struct {
	resp oracle.Response
	err  error
}

func (f fakeOracle) Analyze(ctx context.Context, prompt string, params oracle.Params) (oracle.Response, error) {
	return f.resp, f.err
}

func TestDetectFusesPatternAndOracleScores(t *testing.T) {
	patterns := []Pattern{
		{Type: "port_scan", Severity: 0.9, Indicators: []string{"connection_attempts"}},
	}
	o := fakeOracle{resp: oracle.Response{Confidence: 0.6, ModelUpdates: map[string]any{"threat_type": "port_scan"}}}
	e := New(patterns, o, 0.7)

	telemetry := map[string]any{"connection_attempts": 80}
	score, threatType := e.Detect(context.Background(), telemetry)

	if threatType != "port_scan" {
		t.Errorf("threat type = %q, want port_scan", threatType)
	}
	// best_pattern = 1.0 match * 0.9 severity = 0.9; oracle = 0.6; mean = 0.75.
	if score < 0.74 || score > 0.76 {
		t.Errorf("score = %f, want ~0.75", score)
	}
}

func TestDetectUsesOracleDirectlyWhenNoPatternPasses(t *testing.T) {
	o := fakeOracle{resp: oracle.Response{Confidence: 0.42, ModelUpdates: map[string]any{"threat_type": "simulated_threat"}}}
	e := New(nil, o, 0.7)

	score, threatType := e.Detect(context.Background(), map[string]any{"packets": 1})
	if score != 0.42 {
		t.Errorf("score = %f, want 0.42", score)
	}
	if threatType != "simulated_threat" {
		t.Errorf("threat type = %q, want simulated_threat", threatType)
	}
}

func TestCorrelateFlagsCampaignAndChain(t *testing.T) {
	detections := []Detection{
		{Score: 0.6, Type: "port_scan", Source: "1.2.3.4"},
		{Score: 0.7, Type: "brute_force", Source: "1.2.3.4"},
		{Score: 0.9, Type: "data_exfiltration", Source: "1.2.3.4"},
	}

	result := Correlate(detections)
	if !result.CampaignDetected {
		t.Errorf("expected campaign detection for repeated source")
	}
	if len(result.ThreatChain) == 0 {
		t.Errorf("expected known chain to be identified")
	}
	if result.OverallSeverity != 0.9 {
		t.Errorf("overall severity = %f, want 0.9", result.OverallSeverity)
	}
}

func TestAdjustThresholdsClamps(t *testing.T) {
	e := New(nil, fakeOracle{}, 0.88)
	for i := 0; i < 10; i++ {
		e.AdjustThresholds(Env{FalsePositiveRate: 0.2})
	}
	if got := e.Threshold(); got != 0.9 {
		t.Errorf("threshold = %f, want clamped to 0.9", got)
	}

	e2 := New(nil, fakeOracle{}, 0.52)
	for i := 0; i < 10; i++ {
		e2.AdjustThresholds(Env{ThreatLandscape: "high"})
	}
	if got := e2.Threshold(); got != 0.5 {
		t.Errorf("threshold = %f, want clamped to 0.5", got)
	}
}

func TestAnalyzeBehaviorScoresTypicalWorkday(t *testing.T) {
	behavior := map[string]any{
		"login_time":          "09:15",
		"logout_time":         "17:30",
		"data_access_pattern": []string{"report_q1.csv", "document_plan.docx"},
		"network_usage":       float64(10_000_000),
	}
	score, anomalies := AnalyzeBehavior(behavior)
	if score < 0.8 {
		t.Errorf("score = %f, want a high score for typical workday behavior", score)
	}
	if len(anomalies) != 0 {
		t.Errorf("expected no anomalies for typical behavior, got %v", anomalies)
	}
}

func TestAnalyzeBehaviorFlagsNightLoginAndExcessiveTransfer(t *testing.T) {
	behavior := map[string]any{
		"login_time":    "03:00",
		"network_usage": float64(500_000_000),
	}
	_, anomalies := AnalyzeBehavior(behavior)
	if len(anomalies) != 2 {
		t.Fatalf("expected 2 anomalies, got %d: %v", len(anomalies), anomalies)
	}
}
