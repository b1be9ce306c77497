// Package radio implements C3, the LoRa Adaptive Controller: it tracks
// channel metrics and adjusts spreading factor, TX power, and bandwidth
// within regional limits, emitting AT-style commands to an optional
// radio adapter.
package radio

import (
	"fmt"
	"math"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/dreamware/sentinel/internal/agenterrors"
	"github.com/dreamware/sentinel/internal/config"
)

const (
	metricRingSize     = 100
	targetPacketLoss   = 0.05
	targetSNR          = -7.5
	minAdjustInterval  = 30 * time.Second
	minMetricsForTune  = 5
	emaPriorWeight     = 0.7
	emaNewWeight       = 0.3
)

// Mode is the radio's optimization bias.
type Mode string

const (
	ModeBalanced    Mode = "balanced"
	ModeEnergy      Mode = "energy"
	ModeReliability Mode = "reliability"
)

// Metric is one logged channel observation.
type Metric struct {
	RSSI       float64
	SNR        float64
	PacketLoss float64
	Timestamp  time.Time
}

// codingRateFraction maps coding rate labels to the fraction the
// throughput formula uses.
var codingRateFraction = map[string]float64{
	"4/5": 0.8,
	"4/6": 2.0 / 3.0,
	"4/7": 4.0 / 7.0,
	"4/8": 0.5,
}

// Adapter is the optional physical LoRa module, an AT-style command
// channel. Absence means log-only.
type Adapter interface {
	SendCommand(cmd string) (reply string, err error)
}

// PerformanceSummary reports the current radio configuration plus its
// derived throughput/range/energy figures.
type PerformanceSummary struct {
	SpreadingFactor int
	TXPower         int
	Bandwidth       int
	CodingRate      string
	Region          string
	ThroughputBPS   float64
	EstimatedRangeM float64
	EnergyMA        float64
}

// Controller is C3: the LoRa adaptive controller.
type Controller struct {
	log     *zap.Logger
	adapter Adapter

	mu sync.Mutex

	region     string
	limits     config.RegionLimits
	frequency  float64
	sf         int
	txPower    int
	bandwidth  int
	codingRate string
	mode       Mode

	metrics        []Metric
	emaPacketLoss  float64
	haveEMA        bool
	lastAdjustment time.Time
}

// New constructs a Controller from its initial radio configuration,
// validating it against the region's regulatory caps.
func New(cfg config.Config, log *zap.Logger, adapter Adapter) (*Controller, error) {
	limits, ok := config.RegionLimitsFor(cfg.Region)
	if !ok {
		return nil, agenterrors.Config(fmt.Sprintf("unknown region %q", cfg.Region), nil)
	}
	if cfg.TXPower < 5 || cfg.TXPower > limits.MaxTXPower {
		return nil, agenterrors.Config(fmt.Sprintf("tx_power %d out of bounds for region %s", cfg.TXPower, cfg.Region), nil)
	}
	if cfg.SpreadingFactor < 7 || cfg.SpreadingFactor > 12 {
		return nil, agenterrors.Config("spreading_factor out of range [7,12]", nil)
	}
	if cfg.Bandwidth < 125000 || cfg.Bandwidth > 500000 {
		return nil, agenterrors.Config("bandwidth out of range [125000,500000]", nil)
	}

	mode := Mode(cfg.OptimizationMode)
	switch mode {
	case ModeBalanced, ModeEnergy, ModeReliability:
	default:
		mode = ModeBalanced
	}

	return &Controller{
		log:        log,
		adapter:    adapter,
		region:     cfg.Region,
		limits:     limits,
		frequency:  cfg.FrequencyMHz,
		sf:         cfg.SpreadingFactor,
		txPower:    cfg.TXPower,
		bandwidth:  cfg.Bandwidth,
		codingRate: cfg.CodingRate,
		mode:       mode,
	}, nil
}

// LogMetrics appends a channel observation to the bounded ring and
// updates the packet-loss exponential moving average.
func (c *Controller) LogMetrics(rssi, snr, packetLoss float64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	m := Metric{RSSI: rssi, SNR: snr, PacketLoss: packetLoss, Timestamp: time.Now()}
	c.metrics = append(c.metrics, m)
	if len(c.metrics) > metricRingSize {
		c.metrics = c.metrics[len(c.metrics)-metricRingSize:]
	}

	if !c.haveEMA {
		c.emaPacketLoss = packetLoss
		c.haveEMA = true
	} else {
		c.emaPacketLoss = emaPriorWeight*c.emaPacketLoss + emaNewWeight*packetLoss
	}
}

// AdjustParameters applies the ordered tuning policy: spreading factor
// first on excess packet loss, then TX power on good SNR, then
// bandwidth scaling by optimization mode. It returns whether any change
// was accepted.
func (c *Controller) AdjustParameters() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.metrics) < minMetricsForTune {
		return false
	}
	if !c.lastAdjustment.IsZero() && time.Since(c.lastAdjustment) < minAdjustInterval {
		return false
	}

	changed := false

	if c.emaPacketLoss > targetPacketLoss && c.sf < 12 {
		c.sf++
		changed = true
		c.emit(fmt.Sprintf("AT+SF=%d", c.sf))
	} else if latest := c.metrics[len(c.metrics)-1]; latest.SNR > targetSNR && c.txPower > 5 {
		newPower := c.txPower - 2
		if newPower < 5 {
			newPower = 5
		}
		if newPower > c.limits.MaxTXPower {
			newPower = c.limits.MaxTXPower
		}
		c.txPower = newPower
		changed = true
		c.emit(fmt.Sprintf("AT+POWER=%d", c.txPower))
	}

	if changed {
		switch c.mode {
		case ModeEnergy:
			c.bandwidth = clampInt(c.bandwidth*2, 125000, 500000)
			c.emit(fmt.Sprintf("AT+BW=%d", c.bandwidth))
		case ModeReliability:
			c.bandwidth = clampInt(c.bandwidth/2, 125000, 500000)
			c.emit(fmt.Sprintf("AT+BW=%d", c.bandwidth))
		}
		c.lastAdjustment = time.Now()
	}

	return changed
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// emit sends an AT-style command to the adapter if present, else logs
// the intent.
func (c *Controller) emit(cmd string) {
	if c.adapter == nil {
		c.log.Info("radio reconfiguration (no adapter)", zap.String("cmd", cmd))
		return
	}
	reply, err := c.adapter.SendCommand(cmd)
	if err != nil {
		c.log.Warn("radio adapter command failed", zap.String("cmd", cmd), zap.Error(err))
		return
	}
	if reply != "OK" {
		c.log.Warn("radio adapter unexpected reply", zap.String("cmd", cmd), zap.String("reply", reply))
	}
}

// SetOptimizationMode changes the tuning bias applied on future
// AdjustParameters calls.
func (c *Controller) SetOptimizationMode(mode Mode) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.mode = mode
}

// ResetMetrics clears the metric ring and the packet-loss EMA.
func (c *Controller) ResetMetrics() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.metrics = nil
	c.emaPacketLoss = 0
	c.haveEMA = false
}

// PerformanceSummary reports the current radio configuration plus its
// derived throughput, estimated range, and energy draw.
func (c *Controller) PerformanceSummary() PerformanceSummary {
	c.mu.Lock()
	defer c.mu.Unlock()

	crFraction, ok := codingRateFraction[c.codingRate]
	if !ok {
		crFraction = 0.8
	}

	throughput := (float64(c.sf) * float64(c.bandwidth)) / (math.Pow(2, float64(c.sf)) * crFraction)

	rxSens := -120 + float64(c.sf-7)*2.5
	freqGHz := c.frequency / 1000.0
	rangeExp := (float64(c.txPower) - rxSens - 20*math.Log10(freqGHz) - 32.44) / 20
	estRange := math.Pow(10, rangeExp)

	energy := 25 + float64(c.sf-7)*2 + float64(c.txPower-5)*1.5

	return PerformanceSummary{
		SpreadingFactor: c.sf,
		TXPower:         c.txPower,
		Bandwidth:       c.bandwidth,
		CodingRate:      c.codingRate,
		Region:          c.region,
		ThroughputBPS:   throughput,
		EstimatedRangeM: estRange,
		EnergyMA:        energy,
	}
}

// Snapshot returns the controller's current tunable parameters, for
// metrics export and the local HTTP status surface.
func (c *Controller) Snapshot() (sf, txPower, bandwidth int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sf, c.txPower, c.bandwidth
}
