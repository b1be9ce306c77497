package radio

import (
	"testing"
	"time"

	"github.com/dreamware/sentinel/internal/config"
	"github.com/dreamware/sentinel/internal/logging"
)

func newTestController(t *testing.T) *Controller {
	t.Helper()
	cfg := config.Default()
	cfg.NodeID = "node-1"
	cfg.Region = "BR"
	cfg.SpreadingFactor = 7
	cfg.TXPower = 14
	ctrl, err := New(cfg, logging.Nop(), nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return ctrl
}

func logMetricsBackdated(c *Controller, n int, rssi, snr, loss float64) {
	c.LogMetrics(rssi, snr, loss)
	if len(c.metrics) > 0 {
		c.metrics[len(c.metrics)-1].Timestamp = time.Now().Add(-time.Hour)
	}
}

func TestAdjustParametersHighLoss(t *testing.T) {
	c := newTestController(t)
	for i := 0; i < 10; i++ {
		c.LogMetrics(-90, -9, 0.3)
	}

	changed := c.AdjustParameters()
	if !changed {
		t.Fatalf("expected adjustment to be applied")
	}
	sf, tx, _ := c.Snapshot()
	if sf != 8 {
		t.Errorf("spreading_factor = %d, want 8", sf)
	}
	if tx != 14 {
		t.Errorf("tx_power = %d, want unchanged 14", tx)
	}
}

func TestAdjustParametersGoodSNR(t *testing.T) {
	c := newTestController(t)
	for i := 0; i < 10; i++ {
		c.LogMetrics(-80, -7, 0.01)
	}

	changed := c.AdjustParameters()
	if !changed {
		t.Fatalf("expected adjustment to be applied")
	}
	sf, tx, _ := c.Snapshot()
	if tx != 12 {
		t.Errorf("tx_power = %d, want 12", tx)
	}
	if sf != 7 {
		t.Errorf("spreading_factor = %d, want unchanged 7", sf)
	}
}

func TestAdjustParametersRequiresMinimumMetrics(t *testing.T) {
	c := newTestController(t)
	for i := 0; i < 4; i++ {
		c.LogMetrics(-90, -9, 0.3)
	}
	if c.AdjustParameters() {
		t.Fatalf("expected no adjustment with fewer than 5 metrics")
	}
}

func TestAdjustParametersRespectsMinInterval(t *testing.T) {
	c := newTestController(t)
	for i := 0; i < 10; i++ {
		c.LogMetrics(-90, -9, 0.3)
	}
	if !c.AdjustParameters() {
		t.Fatalf("expected first adjustment to apply")
	}
	for i := 0; i < 10; i++ {
		c.LogMetrics(-90, -9, 0.3)
	}
	if c.AdjustParameters() {
		t.Fatalf("expected second adjustment to be gated by minimum interval")
	}
}

func TestPerformanceSummaryDerivedFigures(t *testing.T) {
	c := newTestController(t)
	summary := c.PerformanceSummary()
	if summary.ThroughputBPS <= 0 {
		t.Errorf("throughput should be positive, got %f", summary.ThroughputBPS)
	}
	if summary.EnergyMA <= 0 {
		t.Errorf("energy should be positive, got %f", summary.EnergyMA)
	}
}

func TestNewRejectsOutOfRegionTXPower(t *testing.T) {
	cfg := config.Default()
	cfg.NodeID = "node-1"
	cfg.Region = "EU"
	cfg.TXPower = 20 // EU cap is 14
	if _, err := New(cfg, logging.Nop(), nil); err == nil {
		t.Fatalf("expected ConfigError for tx_power above regional cap")
	}
}
