// Package node wires C1-C8 into a single peer-symmetric agent process:
// it owns the canonical cross-component lock acquisition order and
// drives the background loops the scheduling model requires.
package node

import (
	"context"
	"os"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/dreamware/sentinel/internal/config"
	"github.com/dreamware/sentinel/internal/immune"
	"github.com/dreamware/sentinel/internal/integrity"
	"github.com/dreamware/sentinel/internal/membership"
	"github.com/dreamware/sentinel/internal/metrics"
	"github.com/dreamware/sentinel/internal/ota"
	"github.com/dreamware/sentinel/internal/oracle"
	"github.com/dreamware/sentinel/internal/radio"
	"github.com/dreamware/sentinel/internal/response"
	"github.com/dreamware/sentinel/internal/sharding"
	"github.com/dreamware/sentinel/internal/threat"
	"github.com/dreamware/sentinel/internal/transport"
)

// securityEventBacklog bounds the queue feeding the real-time security
// monitor; a node producing events faster than C6-C8 can drain them
// drops each new event that finds the queue full rather than blocking
// its producer (the membership ticker or radio metric ingestion path).
const securityEventBacklog = 256

// securityEvent is one unit of work for the real-time security
// monitor: a telemetry observation plus the source it came from.
type securityEvent struct {
	source    string
	telemetry map[string]any
}

// Node owns every component and the background goroutines that drive
// them. The canonical component lock order is
// C4 -> C5 -> C8 -> C7 -> C6 -> C3 -> C2 -> C1; no method on this type
// holds one component's lock while acquiring another's (each component
// call takes and releases its own lock), so that order is never
// inverted.
type Node struct {
	cfg config.Config
	log *zap.Logger
	met *metrics.Registry

	membership *membership.Monitor
	sharding   *sharding.Registry
	response   *response.Engine
	immune     *immune.Engine
	threat     *threat.Engine
	radio      *radio.Controller
	ota        *ota.Engine
	integrity  *integrity.Store

	transport *transport.Client

	securityEvents chan securityEvent

	wg     sync.WaitGroup
	cancel context.CancelFunc
}

// New constructs a Node from its resolved configuration, wiring every
// component with the shared logger, metrics registry, and transport
// client.
func New(cfg config.Config, log *zap.Logger, met *metrics.Registry) (*Node, error) {
	store, err := integrity.New(cfg.BackupDir, cfg.NodeID, cfg.MaxRollbackVersions, log)
	if err != nil {
		return nil, err
	}

	client := transport.NewClient(cfg.Timeout())

	radioCtrl, err := radio.New(cfg, log, nil)
	if err != nil {
		return nil, err
	}

	otaEngine := ota.New(cfg.ModelPath, cfg.CurrentVersion, store, client, log)

	// The oracle talks to Anthropic's API directly rather than the
	// configured llm_endpoint (no generic HTTP oracle protocol ships in
	// this tree); llm_endpoint just toggles whether the oracle is
	// consulted at all, and the API key comes from the process
	// environment so it never touches the config file or logs.
	apiKey := ""
	if cfg.LLMEndpoint != "" {
		apiKey = os.Getenv("ANTHROPIC_API_KEY")
	}
	llm := oracle.New(apiKey, cfg.ModelName, log)

	shardRegistry := sharding.New(cfg.RedundancyFactor)
	threatEngine := threat.New(nil, llm, cfg.ThreatThreshold)
	immuneEngine := immune.New(cfg.ImmuneCellsCount, cfg.MemoryCellsCount, llm)
	responseEngine := response.New(cfg.ResponseThreshold)

	monitor := membership.New(client, cfg.HealthCheckInterval(), cfg.RecoveryTimeout(), log)

	n := &Node{
		cfg:        cfg,
		log:        log,
		met:        met,
		membership: monitor,
		sharding:   shardRegistry,
		response:   responseEngine,
		immune:     immuneEngine,
		threat:     threatEngine,
		radio:      radioCtrl,
		ota:        otaEngine,
		integrity:  store,
		transport:  client,

		securityEvents: make(chan securityEvent, securityEventBacklog),
	}

	for _, addr := range cfg.Peers {
		monitor.AddNode(addr, addr)
		shardRegistry.AddNode(addr)
	}

	// C4 -> C5: the membership ticker invokes the shard/service
	// redistributor on failure, following the canonical lock order.
	monitor.SetOnFailure(n.onPeerFailure)

	return n, nil
}

// onPeerFailure is C4's failure callback: it redistributes shards and
// reassigns services for the failed peer, redistribution before
// reassignment, then feeds the failure into the security pipeline as a
// telemetry event for C6 to score.
func (n *Node) onPeerFailure(nodeID string) {
	n.sharding.Redistribute(nodeID)
	n.sharding.Reassign(nodeID)

	health := n.membership.GetHealthMetrics()
	if n.met != nil {
		n.met.ShardRedistributions.Inc()
		n.met.MembershipFailed.Set(float64(health.FailedNodes))
		n.met.MembershipActive.Set(float64(health.ActiveNodes))
	}

	n.emitSecurityEvent(nodeID, map[string]any{
		"event":   "node_failure",
		"node_id": nodeID,
	})
}

// emitSecurityEvent queues a telemetry observation for the real-time
// security monitor. The send never blocks the caller (the membership
// ticker or radio metric ingestion): a full queue drops the event with
// a warning rather than stalling C3/C4.
func (n *Node) emitSecurityEvent(source string, telemetry map[string]any) {
	select {
	case n.securityEvents <- securityEvent{source: source, telemetry: telemetry}:
	default:
		n.log.Warn("security event queue full, dropping event", zap.String("source", source))
	}
}

// Start launches the background threads the scheduling model requires:
// the membership ticker (C4), the security real-time monitor (C6-C8,
// draining events C4 failures and C3 channel changes feed it), and the
// OTA poller when an aggregator is configured (C2). C3 itself remains
// synchronous, driven by callers reporting radio metrics through
// IngestRadioMetrics.
func (n *Node) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	n.cancel = cancel

	n.membership.Start(ctx)

	n.wg.Add(1)
	go n.runSecurityMonitor(ctx)

	if n.cfg.AggregatorBaseURL != "" {
		n.wg.Add(1)
		go n.runOTAPoller(ctx)
	}
}

// runSecurityMonitor is the security real-time monitor thread: it
// drains queued telemetry events and drives them through
// ProcessTelemetry. Because it blocks on the event channel rather than
// a ticker, it exits immediately on ctx cancellation rather than
// waiting out a poll interval.
func (n *Node) runSecurityMonitor(ctx context.Context) {
	defer n.wg.Done()
	for {
		select {
		case ev := <-n.securityEvents:
			n.ProcessTelemetry(ctx, ev.source, ev.telemetry)
		case <-ctx.Done():
			return
		}
	}
}

// Stop signals every background thread and waits for them to exit,
// within the scheduling model's one-tick-plus-one-second bound.
func (n *Node) Stop() {
	if n.cancel != nil {
		n.cancel()
	}
	n.membership.Stop()
	n.wg.Wait()
}

func (n *Node) runOTAPoller(ctx context.Context) {
	defer n.wg.Done()
	ticker := time.NewTicker(n.cfg.HealthCheckInterval())
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			applied := n.ota.CheckForUpdates(ctx, n.cfg.AggregatorBaseURL)
			outcome := "no_update"
			if applied {
				outcome = "applied"
			}
			if n.met != nil {
				n.met.OTAChecks.WithLabelValues(outcome).Inc()
				n.met.OTACurrentVersion.Set(float64(n.ota.CurrentVersion()))
			}
		case <-ctx.Done():
			return
		}
	}
}

// IngestRadioMetrics is C3's synchronous I/O-loop entry point: it logs
// one channel observation, applies the adjustment policy, and, on an
// accepted change, feeds the new configuration into the security
// pipeline as a telemetry event, since a channel change is itself a
// signal worth scoring.
func (n *Node) IngestRadioMetrics(rssi, snr, packetLoss float64) {
	n.radio.LogMetrics(rssi, snr, packetLoss)
	changed := n.radio.AdjustParameters()

	sf, txPower, bandwidth := n.radio.Snapshot()
	if n.met != nil {
		n.met.RadioSpreadingFactor.Set(float64(sf))
		n.met.RadioTXPower.Set(float64(txPower))
		if changed {
			n.met.RadioAdjustments.Inc()
		}
	}

	if changed {
		n.emitSecurityEvent("radio", map[string]any{
			"event":            "channel_change",
			"spreading_factor": sf,
			"tx_power":         txPower,
			"bandwidth":        bandwidth,
			"packet_loss":      packetLoss,
			"snr":              snr,
		})
	}
}

// ProcessTelemetry runs the C6 -> C7 -> C8 security pipeline over one
// telemetry observation: score it, detect antigens, generate and
// execute a response, then feed the outcome back as learning. The
// components are called in turn (C6, then C7, then C8), each taking and
// releasing its own lock; no two are held at once.
func (n *Node) ProcessTelemetry(ctx context.Context, source string, telemetry map[string]any) response.ExecutionResult {
	score, threatType := n.threat.Detect(ctx, telemetry)
	if behaviorScore, anomalies := threat.AnalyzeBehavior(telemetry); len(anomalies) > 0 && behaviorScore > score {
		score = behaviorScore
		if n.met != nil {
			n.met.ImmuneActivations.Add(float64(len(anomalies)))
		}
	}
	antigens := n.immune.DetectAntigens(ctx, telemetry)

	resp := response.Generate(score)
	if family, ok := familyForThreatType(threatType, antigens); ok {
		resp = response.AugmentForFamily(resp, family)
	}

	result := response.Execute(resp)
	if n.met != nil {
		n.met.ResponsesExecuted.WithLabelValues(resp.Action).Inc()
		n.met.ThreatsDetected.WithLabelValues(threatType).Inc()
		n.met.ImmuneActivations.Add(float64(len(antigens)))
	}

	outcome := response.Outcome{
		ThreatStopped: result.Success,
		ResponseTime:  result.ExecutionTime,
	}
	n.response.LearnFromOutcome(resp, outcome)

	return result
}

func familyForThreatType(threatType string, antigens []immune.Antigen) (response.ThreatFamily, bool) {
	switch threatType {
	case "ddos_attack":
		return response.FamilyDDoS, true
	case "malware_detection":
		return response.FamilyMalware, true
	case "data_exfiltration":
		return response.FamilyDataExfiltration, true
	}
	for _, a := range antigens {
		switch a.ThreatType {
		case "ddos_attack":
			return response.FamilyDDoS, true
		case "malware_detection":
			return response.FamilyMalware, true
		case "data_exfiltration":
			return response.FamilyDataExfiltration, true
		}
	}
	return "", false
}

// RadioController exposes C3 for the HTTP status surface and manual
// metric ingestion.
func (n *Node) RadioController() *radio.Controller { return n.radio }

// Membership exposes C4 for the HTTP status surface.
func (n *Node) Membership() *membership.Monitor { return n.membership }

// OTAEngine exposes C2 for manual update triggers.
func (n *Node) OTAEngine() *ota.Engine { return n.ota }

// Sharding exposes C5 for manual redistribution triggers.
func (n *Node) Sharding() *sharding.Registry { return n.sharding }
