// Package threat implements C6, the Threat Detection Engine: pattern
// matching fused with an optional LLM oracle score, campaign
// correlation across recent detections, and adaptive threshold tuning.
package threat

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/dreamware/sentinel/internal/oracle"
)

// Pattern is a loaded detection signature: a set of indicator keys and
// a severity weight.
type Pattern struct {
	Type       string
	Severity   float64
	Indicators []string
}

// Detection is a single scored threat.
type Detection struct {
	Score  float64
	Type   string
	Source string
}

// CorrelationResult is the correlate() response.
type CorrelationResult struct {
	CampaignDetected bool
	Campaigns        map[string][]Detection
	ThreatChain       []string
	OverallSeverity   float64
}

// knownChains are predefined ordered attack-type sequences; if every
// type in a chain appears among the correlated detections, it's
// reported regardless of temporal order.
var knownChains = [][]string{
	{"port_scan", "brute_force", "data_exfiltration"},
}

// Engine is C6: the threat detection engine.
type Engine struct {
	oracle oracle.Oracle

	mu         sync.Mutex
	patterns   []Pattern
	threshold  float64
}

// New constructs an Engine with the given loaded patterns, an oracle
// client (may be a disabled oracle.Client), and an initial threshold
// (default 0.7).
func New(patterns []Pattern, llm oracle.Oracle, threshold float64) *Engine {
	if threshold <= 0 {
		threshold = 0.7
	}
	return &Engine{patterns: patterns, oracle: llm, threshold: threshold}
}

// Detect scores telemetry against loaded patterns and the LLM oracle,
// fusing the two into a single (score, threat_type) result.
func (e *Engine) Detect(ctx context.Context, telemetry map[string]any) (score float64, threatType string) {
	e.mu.Lock()
	patterns := e.patterns
	e.mu.Unlock()

	bestScore, bestType, havePattern := 0.0, "", false
	for _, p := range patterns {
		match := matchFraction(p.Indicators, telemetry)
		if match <= 0.5 {
			continue
		}
		weighted := match * p.Severity
		if !havePattern || weighted > bestScore {
			bestScore, bestType, havePattern = weighted, p.Type, true
		}
	}

	prompt := oracle.BuildPrompt(telemetry)
	resp, err := e.oracle.Analyze(ctx, prompt, oracle.Params{MaxTokens: 256, Context: telemetry})
	if err != nil {
		resp = oracle.Response{Confidence: 0, ModelUpdates: map[string]any{"threat_type": "simulated_threat"}}
	}
	oracleScore := resp.Confidence
	oracleType := resp.ThreatType()

	if !havePattern {
		return oracleScore, oracleType
	}

	combined := (bestScore + oracleScore) / 2
	threatType = bestType
	if oracleScore > bestScore {
		threatType = oracleType
	}
	return combined, threatType
}

// matchFraction computes the fraction of pattern indicators present as
// keys anywhere in telemetry (including nested evidence strings).
func matchFraction(indicators []string, telemetry map[string]any) float64 {
	if len(indicators) == 0 {
		return 0
	}
	present := 0
	blob := fmt.Sprint(telemetry)
	for _, ind := range indicators {
		if _, ok := telemetry[ind]; ok {
			present++
			continue
		}
		if strings.Contains(blob, ind) {
			present++
		}
	}
	return float64(present) / float64(len(indicators))
}

// Correlate groups detections by source, flags a campaign when a source
// has at least 2 detections, and checks the detected type set against
// predefined attack chains.
func Correlate(detections []Detection) CorrelationResult {
	bySource := make(map[string][]Detection)
	for _, d := range detections {
		bySource[d.Source] = append(bySource[d.Source], d)
	}

	campaigns := make(map[string][]Detection)
	campaignDetected := false
	for src, ds := range bySource {
		if len(ds) >= 2 {
			campaigns[src] = ds
			campaignDetected = true
		}
	}

	types := make(map[string]bool)
	for _, d := range detections {
		types[d.Type] = true
	}
	var chain []string
	for _, candidate := range knownChains {
		allPresent := true
		for _, t := range candidate {
			if !types[t] {
				allPresent = false
				break
			}
		}
		if allPresent {
			chain = candidate
			break
		}
	}

	overall := 0.0
	for _, d := range detections {
		if d.Score > overall {
			overall = d.Score
		}
	}

	return CorrelationResult{
		CampaignDetected: campaignDetected,
		Campaigns:        campaigns,
		ThreatChain:      chain,
		OverallSeverity:  overall,
	}
}

// Env carries the observed signals adjust_thresholds reacts to.
type Env struct {
	ThreatLandscape string // "low", "normal", "high"
	FalsePositiveRate float64
}

// AdjustThresholds raises the detection threshold when the threat
// landscape is quiet or false positives are too common, and lowers it
// when the landscape is active or false positives are rare, clamped to
// [0.5, 0.9].
func (e *Engine) AdjustThresholds(env Env) float64 {
	e.mu.Lock()
	defer e.mu.Unlock()

	switch {
	case env.ThreatLandscape == "low" || env.FalsePositiveRate > 0.15:
		e.threshold += 0.05
	case env.ThreatLandscape == "high" || env.FalsePositiveRate < 0.05:
		e.threshold -= 0.05
	}

	if e.threshold < 0.5 {
		e.threshold = 0.5
	}
	if e.threshold > 0.9 {
		e.threshold = 0.9
	}
	return e.threshold
}

// Threshold returns the current detection threshold.
func (e *Engine) Threshold() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.threshold
}

// SortDetectionsDesc sorts detections by score, descending, for callers
// that need a deterministic ranked view.
func SortDetectionsDesc(detections []Detection) {
	sort.Slice(detections, func(i, j int) bool { return detections[i].Score > detections[j].Score })
}

// Anomaly is one behavioral anomaly flagged by AnalyzeBehavior.
type Anomaly struct {
	Type        string
	Severity    float64
	Description string
}

// typicalAccessFiles are the filename substrings AnalyzeBehavior treats
// as routine data access.
var typicalAccessFiles = []string{"file1", "file2", "file3", "document", "report"}

// AnalyzeBehavior scores a user/session behavior record across
// temporal, access-pattern, and network-usage dimensions and flags
// behavioral anomalies, independent of the telemetry pattern/oracle
// fusion Detect performs. The three sub-scores are averaged equally.
func AnalyzeBehavior(behavior map[string]any) (score float64, anomalies []Anomaly) {
	timeScore := temporalScore(behavior)
	accessScore := accessPatternScore(behavior)
	networkScore := networkUsageScore(behavior)
	score = (timeScore + accessScore + networkScore) / 3
	anomalies = behaviorAnomalies(behavior)
	return score, anomalies
}

func temporalScore(behavior map[string]any) float64 {
	login := stringField(behavior, "login_time", "09:00")
	logout := stringField(behavior, "logout_time", "17:00")
	switch {
	case login >= "09:00" && login <= "10:00" && logout >= "16:00" && logout <= "18:00":
		return 0.9
	case login >= "08:00" && login <= "11:00" && logout >= "15:00" && logout <= "19:00":
		return 0.7
	default:
		return 0.3
	}
}

func accessPatternScore(behavior map[string]any) float64 {
	pattern, _ := behavior["data_access_pattern"].([]string)
	if len(pattern) == 0 {
		return 0.5
	}
	typical := 0
	for _, f := range pattern {
		lower := strings.ToLower(f)
		for _, tf := range typicalAccessFiles {
			if strings.Contains(lower, tf) {
				typical++
				break
			}
		}
	}
	frac := float64(typical) / float64(len(pattern))
	if frac > 1.0 {
		frac = 1.0
	}
	return frac
}

func networkUsageScore(behavior map[string]any) float64 {
	usage := numericField(behavior, "network_usage")
	switch {
	case usage >= 5_000_000 && usage <= 50_000_000:
		return 0.9
	case usage >= 1_000_000 && usage <= 100_000_000:
		return 0.7
	default:
		return 0.3
	}
}

func behaviorAnomalies(behavior map[string]any) []Anomaly {
	var anomalies []Anomaly

	login := stringField(behavior, "login_time", "")
	if login != "" && login >= "02:00" && login <= "06:00" {
		anomalies = append(anomalies, Anomaly{
			Type:        "anomalous_login_time",
			Severity:    0.7,
			Description: fmt.Sprintf("login at unusual time: %s", login),
		})
	}

	usage := numericField(behavior, "network_usage")
	if usage > 100_000_000 {
		anomalies = append(anomalies, Anomaly{
			Type:        "excessive_network_usage",
			Severity:    0.8,
			Description: fmt.Sprintf("excessive network usage: %.0f bytes", usage),
		})
	}

	return anomalies
}

func stringField(m map[string]any, key, fallback string) string {
	if v, ok := m[key].(string); ok {
		return v
	}
	return fallback
}

func numericField(m map[string]any, key string) float64 {
	switch v := m[key].(type) {
	case int:
		return float64(v)
	case int64:
		return float64(v)
	case float64:
		return v
	default:
		return 0
	}
}
