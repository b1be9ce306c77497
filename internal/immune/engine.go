// Package immune implements C7, the Immune Engine: a population of
// detector and memory cells across fixed specializations that activate
// on telemetry stimuli, form memory on successful responses, and adapt
// their thresholds over time.
package immune

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/exp/slices"

	"github.com/dreamware/sentinel/internal/oracle"
)

// Specialization is one of the ten fixed immune cell domains.
type Specialization string

const (
	SpecNetworkAnomaly     Specialization = "network_anomaly"
	SpecMalwareDetection   Specialization = "malware_detection"
	SpecDDoSAttack         Specialization = "ddos_attack"
	SpecDataExfiltration   Specialization = "data_exfiltration"
	SpecPrivilegeEscalation Specialization = "privilege_escalation"
	SpecSQLInjection       Specialization = "sql_injection"
	SpecXSS                Specialization = "cross_site_scripting"
	SpecBruteForce         Specialization = "brute_force_attack"
	SpecPhishing           Specialization = "phishing_attempt"
	SpecZeroDay            Specialization = "zero_day_exploit"
)

// specializations is the fixed, ordered list cells are round-robin
// allocated across.
var specializations = []Specialization{
	SpecNetworkAnomaly, SpecMalwareDetection, SpecDDoSAttack, SpecDataExfiltration,
	SpecPrivilegeEscalation, SpecSQLInjection, SpecXSS, SpecBruteForce,
	SpecPhishing, SpecZeroDay,
}

// defaultThresholds is the fixed per-specialization activation
// threshold table.
var defaultThresholds = map[Specialization]float64{
	SpecNetworkAnomaly:      0.6,
	SpecMalwareDetection:    0.6,
	SpecDDoSAttack:          0.7,
	SpecDataExfiltration:    0.6,
	SpecPrivilegeEscalation: 0.65,
	SpecSQLInjection:        0.6,
	SpecXSS:                 0.6,
	SpecBruteForce:          0.6,
	SpecPhishing:            0.55,
	SpecZeroDay:             0.75,
}

// CellKind distinguishes a detector from a memory cell.
type CellKind string

const (
	KindDetector CellKind = "detector"
	KindMemory   CellKind = "memory"
)

// Cell is one immune cell.
type Cell struct {
	ID             string
	Kind           CellKind
	Specialization Specialization
	Threshold      float64
	MemoryStrength float64
}

// Antigen is a produced detection event.
type Antigen struct {
	AntigenID  string
	ThreatType string
	Confidence float64
}

// Engine is C7: the immune engine.
type Engine struct {
	oracle oracle.Oracle

	mu    sync.Mutex
	cells []*Cell
}

// New constructs an Engine, allocating detectorCount detector cells and
// memoryCount memory cells round-robin across the fixed specialization
// list.
func New(detectorCount, memoryCount int, llm oracle.Oracle) *Engine {
	e := &Engine{oracle: llm}
	for i := 0; i < detectorCount; i++ {
		spec := specializations[i%len(specializations)]
		e.cells = append(e.cells, e.newCellLocked(KindDetector, spec))
	}
	for i := 0; i < memoryCount; i++ {
		spec := specializations[i%len(specializations)]
		e.cells = append(e.cells, e.newCellLocked(KindMemory, spec))
	}
	return e
}

func (e *Engine) newCellLocked(kind CellKind, spec Specialization) *Cell {
	strength := 0.3
	if kind == KindMemory {
		strength = 0.5
	}
	return &Cell{
		ID:             uuid.New().String(),
		Kind:           kind,
		Specialization: spec,
		Threshold:      defaultThresholds[spec],
		MemoryStrength: strength,
	}
}

// stimulus computes the per-specialization stimulus from telemetry
// following the fixed rule table, capped to 1.0.
func stimulus(spec Specialization, telemetry map[string]any) float64 {
	s := 0.0
	blob := fmt.Sprint(telemetry)

	switch spec {
	case SpecNetworkAnomaly:
		if packets := numericField(telemetry, "packets"); packets > 10000 {
			s += 0.3
		}
		if packets := numericField(telemetry, "packets"); packets > 50000 {
			s += 0.4
		}
		if attempts := numericField(telemetry, "connection_attempts"); attempts > 50 {
			s += 0.3
		}
	case SpecDDoSAttack:
		if packets := numericField(telemetry, "packets"); packets > 100000 {
			s += 0.8
		}
		if uniqueSources := numericField(telemetry, "unique_source_count"); uniqueSources > 100 {
			s += 0.6
		}
	case SpecDataExfiltration:
		if rate := numericField(telemetry, "transfer_rate_mbps"); rate > 10 {
			s += 0.7
		}
		if hasSensitivePort(telemetry) {
			s += 0.4
		}
	case SpecMalwareDetection:
		if strings.Contains(blob, "suspicious_process") {
			s += 0.6
		}
		if strings.Contains(blob, "file_creation") {
			s += 0.4
		}
	}

	if s > 1.0 {
		s = 1.0
	}
	return s
}

func numericField(telemetry map[string]any, key string) float64 {
	v, ok := telemetry[key]
	if !ok {
		return 0
	}
	switch n := v.(type) {
	case int:
		return float64(n)
	case int64:
		return float64(n)
	case float64:
		return n
	default:
		return 0
	}
}

var sensitivePorts = map[int]bool{22: true, 3389: true, 445: true, 1433: true}

func hasSensitivePort(telemetry map[string]any) bool {
	ports, ok := telemetry["destination_ports"].([]int)
	if !ok {
		return false
	}
	for _, p := range ports {
		if sensitivePorts[p] {
			return true
		}
	}
	return false
}

// DetectAntigens computes a stimulus per specialization, activates any
// cell crossing its effective threshold, optionally merges an oracle
// call's result, deduplicates by threat type keeping the highest
// confidence, and returns antigens sorted by confidence descending.
func (e *Engine) DetectAntigens(ctx context.Context, telemetry map[string]any) []Antigen {
	e.mu.Lock()
	cells := make([]*Cell, len(e.cells))
	copy(cells, e.cells)
	e.mu.Unlock()

	byType := make(map[string]float64)
	for _, c := range cells {
		stim := stimulus(c.Specialization, telemetry)
		effective := c.Threshold
		if c.Kind == KindMemory {
			effective = c.Threshold * (1 - 0.3*c.MemoryStrength)
		}
		activated, confidence := activate(stim, effective)
		if !activated {
			continue
		}
		threatType := string(c.Specialization)
		if prev, ok := byType[threatType]; !ok || confidence > prev {
			byType[threatType] = confidence
		}
	}

	if e.oracle != nil {
		prompt := oracle.BuildPrompt(telemetry)
		if resp, err := e.oracle.Analyze(ctx, prompt, oracle.Params{Context: telemetry}); err == nil {
			threatType := resp.ThreatType()
			if prev, ok := byType[threatType]; !ok || resp.Confidence > prev {
				byType[threatType] = resp.Confidence
			}
		}
	}

	antigens := make([]Antigen, 0, len(byType))
	for t, c := range byType {
		antigens = append(antigens, Antigen{AntigenID: uuid.New().String(), ThreatType: t, Confidence: c})
	}
	sort.Slice(antigens, func(i, j int) bool { return antigens[i].Confidence > antigens[j].Confidence })
	return antigens
}

// Activate reports whether stimulus crosses threshold, and the response
// strength (equal to stimulus on activation).
func Activate(stimulusValue, threshold float64) (activated bool, responseStrength float64) {
	return activate(stimulusValue, threshold)
}

func activate(stimulusValue, threshold float64) (bool, float64) {
	if stimulusValue >= threshold {
		return true, stimulusValue
	}
	return false, 0
}

// Learn adjusts a cell's memory strength and threshold based on whether
// its response succeeded.
func (e *Engine) Learn(cellID string, success bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	c := e.findLocked(cellID)
	if c == nil {
		return
	}
	if success {
		c.MemoryStrength = minF(c.MemoryStrength+0.1, 1.0)
		c.Threshold = maxF(c.Threshold-0.05, 0.1)
	} else {
		c.MemoryStrength = maxF(c.MemoryStrength-0.05, 0.0)
		c.Threshold = minF(c.Threshold+0.02, 1.0)
	}
}

func (e *Engine) findLocked(cellID string) *Cell {
	idx := slices.IndexFunc(e.cells, func(c *Cell) bool { return c.ID == cellID })
	if idx < 0 {
		return nil
	}
	return e.cells[idx]
}

// responseSpecialization maps a response's first recognized action to
// the specialization form_memory derives its new cell from.
var responseSpecialization = map[string]Specialization{
	"block_ip":               SpecNetworkAnomaly,
	"isolate_host":           SpecMalwareDetection,
	"rate_limit":             SpecDDoSAttack,
	"encrypt_sensitive_data": SpecDataExfiltration,
}

// FormMemory creates a new memory cell from a successful response's
// first recognized action, or returns nil if success is false.
func (e *Engine) FormMemory(firstAction string, success bool) *Cell {
	if !success {
		return nil
	}
	spec, ok := responseSpecialization[firstAction]
	if !ok {
		spec = SpecNetworkAnomaly
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	cell := e.newCellLocked(KindMemory, spec)
	cell.MemoryStrength = 0.8
	e.cells = append(e.cells, cell)
	return cell
}

// Consolidate retains at most the two strongest memory cells per
// specialization, and raises any remaining weak memory cell (strength
// < 0.3) to 0.5.
func (e *Engine) Consolidate() {
	e.mu.Lock()
	defer e.mu.Unlock()

	bySpec := make(map[Specialization][]*Cell)
	for _, c := range e.cells {
		if c.Kind == KindMemory {
			bySpec[c.Specialization] = append(bySpec[c.Specialization], c)
		}
	}

	keep := make(map[string]bool)
	for _, cells := range bySpec {
		sort.Slice(cells, func(i, j int) bool { return cells[i].MemoryStrength > cells[j].MemoryStrength })
		limit := 2
		if limit > len(cells) {
			limit = len(cells)
		}
		for i := 0; i < limit; i++ {
			keep[cells[i].ID] = true
		}
	}

	var kept []*Cell
	for _, c := range e.cells {
		if c.Kind == KindMemory && !keep[c.ID] {
			continue
		}
		if c.Kind == KindMemory && c.MemoryStrength < 0.3 {
			c.MemoryStrength = 0.5
		}
		kept = append(kept, c)
	}
	e.cells = kept
}

// EnvChange carries the adaptive signals adapt() reacts to.
type EnvChange struct {
	NewThreatTypes       []string
	ComplexityIncreasing bool
}

// Adapt adds a detector for each new threat type and, when complexity
// is increasing, lowers every detector's threshold by 0.05.
func (e *Engine) Adapt(change EnvChange) {
	e.mu.Lock()
	defer e.mu.Unlock()

	for _, t := range change.NewThreatTypes {
		e.cells = append(e.cells, e.newCellLocked(KindDetector, Specialization(t)))
	}
	if change.ComplexityIncreasing {
		for _, c := range e.cells {
			if c.Kind == KindDetector {
				c.Threshold = maxF(c.Threshold-0.05, 0.1)
			}
		}
	}
}

// Cells returns a copy of the current cell population, for tests and
// metrics export.
func (e *Engine) Cells() []Cell {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]Cell, len(e.cells))
	for i, c := range e.cells {
		out[i] = *c
	}
	return out
}

func minF(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}

func maxF(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}
