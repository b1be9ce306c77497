// Package response implements C8, the Response & Learning Engine: it
// maps threat scores to graded countermeasures, executes their stub
// side-effects, scores effectiveness, and learns from outcomes.
package response

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

const learningRingSize = 200

// Response is a generated countermeasure.
type Response struct {
	ID         string
	Action     string
	Priority   int
	Parameters map[string]any
	Actions    []string // secondary actions, for immune-augmented responses
}

// ThreatFamily names the immune-correlated category a response
// augments actions for.
type ThreatFamily string

const (
	FamilyDDoS             ThreatFamily = "ddos"
	FamilyMalware          ThreatFamily = "malware"
	FamilyDataExfiltration ThreatFamily = "data_exfiltration"
)

var familyActions = map[ThreatFamily][]string{
	FamilyDDoS:             {"enable_ddos_protection", "scale_resources"},
	FamilyMalware:          {"scan_system", "quarantine_suspicious"},
	FamilyDataExfiltration: {"encrypt_sensitive_data", "audit_access"},
}

// Generate maps a threat score to its action/priority/parameters per
// the fixed score-band table.
func Generate(score float64) Response {
	id := uuid.New().String()
	switch {
	case score > 0.9:
		return Response{ID: id, Action: "block_ip", Priority: 1, Parameters: map[string]any{"duration": 86400}}
	case score > 0.7:
		return Response{ID: id, Action: "rate_limit", Priority: 2, Parameters: map[string]any{"rate": 10, "window": 60}}
	case score > 0.5:
		return Response{ID: id, Action: "alert_admin", Priority: 3, Parameters: map[string]any{"message": "threat detected"}}
	default:
		return Response{ID: id, Action: "monitor", Priority: 4, Parameters: map[string]any{"duration": 3600}}
	}
}

// AugmentForFamily appends the family's secondary actions to an
// immune-generated response.
func AugmentForFamily(resp Response, family ThreatFamily) Response {
	resp.Actions = append(append([]string{}, resp.Actions...), familyActions[family]...)
	return resp
}

// ExecutionResult is what Execute returns: side-effects are stubs, but
// enumerable per action.
type ExecutionResult struct {
	Success       bool
	ExecutionTime time.Duration
	Effects       []string
}

// Execute runs resp's primary and secondary actions as enumerable
// stubs, since physical enforcement (firewalling, quarantine, scaling)
// is outside this engine's scope.
func Execute(resp Response) ExecutionResult {
	start := time.Now()
	effects := make([]string, 0, 1+len(resp.Actions))
	effects = append(effects, stubEffect(resp.Action, resp.Parameters))
	for _, a := range resp.Actions {
		effects = append(effects, stubEffect(a, nil))
	}
	return ExecutionResult{Success: true, ExecutionTime: time.Since(start), Effects: effects}
}

func stubEffect(action string, params map[string]any) string {
	if action == "encrypt_sensitive_data" {
		return fmt.Sprintf("executed:%s:payload=%s", action, obscure("sensitive_data"))
	}
	if len(params) == 0 {
		return fmt.Sprintf("executed:%s", action)
	}
	return fmt.Sprintf("executed:%s:%v", action, params)
}

// obscure stands in for the "encrypted" response parameter: a labeled,
// non-secure string transform (byte-reversal), not cryptography. The
// interface is kept so a real cipher can replace it later without
// changing callers.
func obscure(s string) string {
	b := []byte(s)
	for i, j := 0, len(b)-1; i < j; i, j = i+1, j-1 {
		b[i], b[j] = b[j], b[i]
	}
	return "enc:" + string(b)
}

// Outcome is the observed result of an executed response.
type Outcome struct {
	ThreatStopped    bool
	FalsePositive    bool
	ResponseTime     time.Duration
	CollateralDamage float64
}

// EvaluateEffectiveness scores a response's outcome in [0,1].
func EvaluateEffectiveness(outcome Outcome) float64 {
	score := 0.0
	switch {
	case outcome.ThreatStopped && !outcome.FalsePositive:
		score += 0.6
	case outcome.ThreatStopped:
		score += 0.4
	}
	if outcome.FalsePositive {
		score -= 0.3
	}

	switch {
	case outcome.ResponseTime < time.Second:
		score += 0.2
	case outcome.ResponseTime < 5*time.Second:
		score += 0.1
	}

	score -= outcome.CollateralDamage

	if score < 0 {
		score = 0
	}
	if score > 1 {
		score = 1
	}
	return score
}

// LearningEntry is one appended learning-ring record.
type LearningEntry struct {
	ResponseID    string
	Action        string
	Effectiveness float64
	Timestamp     time.Time
}

// Engine accumulates learning entries and adapts the threat threshold
// when recent effectiveness degrades.
type Engine struct {
	mu        sync.Mutex
	entries   []LearningEntry
	threshold float64
}

// New constructs a learning Engine with an initial threat threshold.
func New(initialThreshold float64) *Engine {
	return &Engine{threshold: initialThreshold}
}

// LearnFromOutcome appends a learning entry and, when the mean
// effectiveness of the last 10 entries drops below 0.5, raises the
// threat threshold by 0.05 (cap 0.9).
func (e *Engine) LearnFromOutcome(resp Response, outcome Outcome) float64 {
	e.mu.Lock()
	defer e.mu.Unlock()

	eff := EvaluateEffectiveness(outcome)
	e.entries = append(e.entries, LearningEntry{ResponseID: resp.ID, Action: resp.Action, Effectiveness: eff, Timestamp: time.Now()})
	if len(e.entries) > learningRingSize {
		e.entries = e.entries[len(e.entries)-learningRingSize:]
	}

	window := e.entries
	if len(window) > 10 {
		window = window[len(window)-10:]
	}
	mean := 0.0
	for _, e := range window {
		mean += e.Effectiveness
	}
	mean /= float64(len(window))

	if mean < 0.5 {
		e.threshold += 0.05
		if e.threshold > 0.9 {
			e.threshold = 0.9
		}
	}
	return e.threshold
}

// Threshold returns the current threat threshold this engine maintains.
func (e *Engine) Threshold() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.threshold
}

// OptimizeResult is the optimize() response: per-action mean
// effectiveness and a parameter suggestion.
type OptimizeResult struct {
	MeanEffectivenessByAction map[string]float64
	SuggestedBlockDuration    float64
}

// Optimize computes per-action mean effectiveness and a median-based
// block-duration suggestion from the accumulated learning history.
func (e *Engine) Optimize() OptimizeResult {
	e.mu.Lock()
	entries := make([]LearningEntry, len(e.entries))
	copy(entries, e.entries)
	e.mu.Unlock()

	sums := make(map[string]float64)
	counts := make(map[string]int)
	var blockDurations []float64
	for _, entry := range entries {
		sums[entry.Action] += entry.Effectiveness
		counts[entry.Action]++
		if entry.Action == "block_ip" {
			blockDurations = append(blockDurations, 86400)
		}
	}

	means := make(map[string]float64, len(sums))
	for action, sum := range sums {
		means[action] = sum / float64(counts[action])
	}

	return OptimizeResult{
		MeanEffectivenessByAction: means,
		SuggestedBlockDuration:    median(blockDurations),
	}
}

func median(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sorted := append([]float64{}, values...)
	sort.Float64s(sorted)
	mid := len(sorted) / 2
	if len(sorted)%2 == 0 {
		return (sorted[mid-1] + sorted[mid]) / 2
	}
	return sorted[mid]
}
