package response

import (
	"testing"
	"time"
)

func TestGenerateMapsScoreBands(t *testing.T) {
	cases := []struct {
		score    float64
		action   string
		priority int
	}{
		{0.95, "block_ip", 1},
		{0.8, "rate_limit", 2},
		{0.6, "alert_admin", 3},
		{0.3, "monitor", 4},
	}
	for _, tc := range cases {
		got := Generate(tc.score)
		if got.Action != tc.action || got.Priority != tc.priority {
			t.Errorf("Generate(%f) = %+v, want action=%s priority=%d", tc.score, got, tc.action, tc.priority)
		}
	}
}

func TestExecuteObscuresDataExfiltrationPayload(t *testing.T) {
	resp := AugmentForFamily(Generate(0.95), FamilyDataExfiltration)
	result := Execute(resp)

	found := false
	for _, effect := range result.Effects {
		if effect == "executed:encrypt_sensitive_data:payload=enc:atad_evitisnes" {
			found = true
		}
	}
	if !found {
		t.Errorf("expected an obscured encrypt_sensitive_data effect, got %v", result.Effects)
	}
}

func TestAugmentForFamilyAppendsSecondaryActions(t *testing.T) {
	resp := Generate(0.95)
	augmented := AugmentForFamily(resp, FamilyDDoS)
	if len(augmented.Actions) != 2 {
		t.Fatalf("expected 2 secondary actions, got %v", augmented.Actions)
	}
}

func TestExecuteEnumeratesEffects(t *testing.T) {
	resp := AugmentForFamily(Generate(0.95), FamilyMalware)
	result := Execute(resp)
	if !result.Success {
		t.Errorf("expected execution to succeed")
	}
	if len(result.Effects) != 1+len(resp.Actions) {
		t.Errorf("expected %d effects, got %d", 1+len(resp.Actions), len(result.Effects))
	}
}

func TestEvaluateEffectivenessFormula(t *testing.T) {
	got := EvaluateEffectiveness(Outcome{ThreatStopped: true, ResponseTime: 500 * time.Millisecond})
	// 0.6 (stopped, no false positive) + 0.2 (fast) = 0.8
	if got < 0.79 || got > 0.81 {
		t.Errorf("effectiveness = %f, want ~0.8", got)
	}

	fp := EvaluateEffectiveness(Outcome{ThreatStopped: true, FalsePositive: true, ResponseTime: 2 * time.Second})
	// 0.4 (stopped only, since false positive excludes the 0.6 branch) - 0.3 + 0.1 = 0.2
	if fp < 0.19 || fp > 0.21 {
		t.Errorf("effectiveness = %f, want ~0.2", fp)
	}
}

func TestLearnFromOutcomeRaisesThresholdOnPoorEffectiveness(t *testing.T) {
	e := New(0.7)
	resp := Generate(0.3)
	for i := 0; i < 10; i++ {
		e.LearnFromOutcome(resp, Outcome{ThreatStopped: false, FalsePositive: true, ResponseTime: 10 * time.Second})
	}
	if got := e.Threshold(); got <= 0.7 {
		t.Errorf("expected threshold to rise after poor effectiveness, got %f", got)
	}
}

func TestOptimizeComputesPerActionMeans(t *testing.T) {
	e := New(0.7)
	e.LearnFromOutcome(Generate(0.95), Outcome{ThreatStopped: true, ResponseTime: 500 * time.Millisecond})
	e.LearnFromOutcome(Generate(0.95), Outcome{ThreatStopped: true, ResponseTime: 500 * time.Millisecond})

	result := e.Optimize()
	if _, ok := result.MeanEffectivenessByAction["block_ip"]; !ok {
		t.Errorf("expected block_ip in optimize result, got %+v", result.MeanEffectivenessByAction)
	}
	if result.SuggestedBlockDuration != 86400 {
		t.Errorf("suggested block duration = %f, want 86400", result.SuggestedBlockDuration)
	}
}
