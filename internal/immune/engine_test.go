package immune

import (
	"context"
	"testing"
)

func TestNewAllocatesCellsRoundRobin(t *testing.T) {
	e := New(10, 4, nil)
	cells := e.Cells()
	if len(cells) != 14 {
		t.Fatalf("expected 14 cells, got %d", len(cells))
	}

	detectors, memories := 0, 0
	for _, c := range cells {
		switch c.Kind {
		case KindDetector:
			detectors++
			if c.MemoryStrength != 0.3 {
				t.Errorf("detector initial strength = %f, want 0.3", c.MemoryStrength)
			}
		case KindMemory:
			memories++
			if c.MemoryStrength != 0.5 {
				t.Errorf("memory initial strength = %f, want 0.5", c.MemoryStrength)
			}
		}
	}
	if detectors != 10 || memories != 4 {
		t.Errorf("got %d detectors, %d memories; want 10, 4", detectors, memories)
	}

	for i := 0; i < 10; i++ {
		if cells[i].Specialization != specializations[i] {
			t.Errorf("detector %d specialization = %q, want %q", i, cells[i].Specialization, specializations[i])
		}
	}
	for i := 0; i < 4; i++ {
		if cells[10+i].Specialization != specializations[i] {
			t.Errorf("memory cell %d specialization = %q, want %q", i, cells[10+i].Specialization, specializations[i])
		}
	}
}

func TestDetectAntigensActivatesOnHighPacketCount(t *testing.T) {
	e := New(10, 0, nil)
	telemetry := map[string]any{"packets": 120000, "unique_source_count": 150}

	antigens := e.DetectAntigens(context.Background(), telemetry)
	found := false
	for _, a := range antigens {
		if a.ThreatType == string(SpecDDoSAttack) {
			found = true
		}
	}
	if !found {
		t.Errorf("expected a ddos_attack antigen, got %+v", antigens)
	}
}

func TestLearnAdjustsStrengthAndThreshold(t *testing.T) {
	e := New(1, 0, nil)
	cell := e.Cells()[0]

	e.Learn(cell.ID, true)
	updated := e.Cells()[0]
	if updated.MemoryStrength <= cell.MemoryStrength {
		t.Errorf("expected memory strength to rise on success")
	}
	if updated.Threshold >= cell.Threshold {
		t.Errorf("expected threshold to fall on success")
	}
}

func TestFormMemoryOnlyOnSuccess(t *testing.T) {
	e := New(0, 0, nil)
	if cell := e.FormMemory("block_ip", false); cell != nil {
		t.Errorf("expected no memory cell formed on failure")
	}
	cell := e.FormMemory("block_ip", true)
	if cell == nil {
		t.Fatalf("expected a memory cell to be formed")
	}
	if cell.Specialization != SpecNetworkAnomaly {
		t.Errorf("specialization = %q, want network_anomaly", cell.Specialization)
	}
	if cell.MemoryStrength != 0.8 {
		t.Errorf("initial strength = %f, want 0.8", cell.MemoryStrength)
	}
}

func TestConsolidateKeepsTopTwoPerSpecialization(t *testing.T) {
	e := New(0, 0, nil)
	for i := 0; i < 4; i++ {
		e.FormMemory("block_ip", true)
	}
	e.Consolidate()

	count := 0
	for _, c := range e.Cells() {
		if c.Specialization == SpecNetworkAnomaly {
			count++
		}
	}
	if count != 2 {
		t.Errorf("expected consolidation to keep 2 cells, got %d", count)
	}
}
