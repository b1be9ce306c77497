package sharding

import "testing"

func TestRedistributePreservesShardCount(t *testing.T) {
	r := New(1.5)
	r.AddNode("node-a")
	r.AddNode("node-b")
	r.AddNode("node-c")

	r.AssignShard(0, "node-a")
	r.AssignShard(1, "node-a")
	r.AssignShard(2, "node-b")
	r.AssignShard(3, "node-c")

	before := r.TotalShardCount()
	removed := len(r.ShardsOf("node-a"))

	r.Redistribute("node-a")

	after := r.TotalShardCount()
	if after != before {
		t.Fatalf("total shard count changed: before=%d after=%d", before, after)
	}
	if len(r.ShardsOf("node-a")) != 0 {
		t.Errorf("failed node should have no shards after redistribution")
	}
	remainingOnSurvivors := len(r.ShardsOf("node-b")) + len(r.ShardsOf("node-c"))
	if remainingOnSurvivors != before {
		t.Errorf("remaining shards on survivors = %d, want %d (removed=%d)", remainingOnSurvivors, before, removed)
	}
}

func TestReassignPicksLeastLoadedSurvivor(t *testing.T) {
	r := New(1.5)
	r.AddNode("node-a")
	r.AddNode("node-b")
	r.AddNode("node-c")

	r.AssignService("svc-1", "node-b")
	r.AssignService("svc-2", "node-b")
	r.AssignService("svc-3", "node-a")

	r.Reassign("node-a")

	r.mu.Lock()
	owner := r.serviceOwner["svc-3"]
	r.mu.Unlock()
	if owner != "node-c" {
		t.Errorf("svc-3 reassigned to %q, want node-c (least loaded)", owner)
	}
}

func TestDetectByzantineFindsCorruptedToken(t *testing.T) {
	r := New(1.5)
	r.SetShardContent("node-a", "clean data")
	r.SetShardContent("node-b", "this shard is corrupted")

	flagged := r.DetectByzantine()
	if len(flagged) != 1 || flagged[0] != "node-b" {
		t.Errorf("DetectByzantine() = %v, want [node-b]", flagged)
	}
}

func TestReachConsensusRequiresQuorum(t *testing.T) {
	r := New(1.5)
	r.AddNode("node-a")
	r.AddNode("node-b")

	if r.ReachConsensus(5, 0.6) {
		t.Errorf("expected consensus to fail with 2/5 active and quorum 0.6")
	}

	r.AddNode("node-c")
	r.AddNode("node-d")
	if !r.ReachConsensus(5, 0.6) {
		t.Errorf("expected consensus to pass with 4/5 active and quorum 0.6")
	}
}

func TestReachConsensusMinimumTwo(t *testing.T) {
	r := New(1.5)
	r.AddNode("node-a")
	if r.ReachConsensus(1, 0.5) {
		t.Errorf("expected consensus to require at least 2 active nodes")
	}
}
