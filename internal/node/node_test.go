package node

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/dreamware/sentinel/internal/config"
	"github.com/dreamware/sentinel/internal/logging"
	"github.com/dreamware/sentinel/internal/metrics"
)

func newTestNode(t *testing.T) *Node {
	t.Helper()
	dir := t.TempDir()
	cfg := config.Default()
	cfg.NodeID = "node-1"
	cfg.ModelPath = filepath.Join(dir, "model.bin")
	cfg.BackupDir = filepath.Join(dir, "backups")
	cfg.Region = "BR"

	n, err := New(cfg, logging.Nop(), metrics.NewForTest())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return n
}

func TestProcessTelemetryExecutesAResponse(t *testing.T) {
	n := newTestNode(t)
	telemetry := map[string]any{"packets": 200000, "unique_source_count": 200}

	result := n.ProcessTelemetry(context.Background(), "1.2.3.4", telemetry)
	if !result.Success {
		t.Errorf("expected response execution to succeed")
	}
	if len(result.Effects) == 0 {
		t.Errorf("expected at least one enumerated effect")
	}
}

func TestProcessTelemetryHandlesBehavioralAnomalyTelemetry(t *testing.T) {
	n := newTestNode(t)
	telemetry := map[string]any{
		"login_time":    "03:00",
		"network_usage": float64(500_000_000),
	}

	result := n.ProcessTelemetry(context.Background(), "user-1", telemetry)
	if !result.Success {
		t.Errorf("expected response execution to succeed")
	}
}

func TestOnPeerFailureRedistributesBeforeReassigning(t *testing.T) {
	n := newTestNode(t)
	n.sharding.AddNode("peer-a")
	n.sharding.AddNode("peer-b")
	n.sharding.AssignShard(0, "peer-a")
	n.sharding.AssignService("svc-1", "peer-a")

	n.onPeerFailure("peer-a")

	if got := n.sharding.ShardsOf("peer-b"); len(got) != 1 {
		t.Errorf("expected shard 0 to move to peer-b, got %v", got)
	}
}

func waitForLearningEntry(t *testing.T, n *Node) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if len(n.response.Optimize().MeanEffectivenessByAction) > 0 {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("timed out waiting for the security monitor to process a queued event")
}

func TestOnPeerFailureDrivesSecurityPipeline(t *testing.T) {
	n := newTestNode(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	n.Start(ctx)
	defer n.Stop()

	n.sharding.AddNode("peer-a")
	n.onPeerFailure("peer-a")

	waitForLearningEntry(t, n)
}

func TestIngestRadioMetricsDrivesSecurityPipelineOnAcceptedChange(t *testing.T) {
	n := newTestNode(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	n.Start(ctx)
	defer n.Stop()

	for i := 0; i < 5; i++ {
		n.IngestRadioMetrics(-100, -10, 0.5)
	}

	waitForLearningEntry(t, n)
}
