// Command agent runs a single peer-symmetric edge node: every instance
// carries the full component set (integrity store, OTA engine, radio
// controller, membership monitor, shard redistributor, and the
// threat/immune/response security pipeline) rather than splitting into
// distinguished coordinator and worker roles.
//
// Configuration:
//   - SENTINEL_CONFIG: path to a YAML config file (optional; defaults apply)
//   - SENTINEL_NODE_ID, SENTINEL_MODEL_PATH, SENTINEL_BACKUP_DIR,
//     SENTINEL_REGION, SENTINEL_COORDINATOR_ADDR, SENTINEL_LISTEN: see
//     internal/config for the full override list.
package main

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/dreamware/sentinel/internal/config"
	"github.com/dreamware/sentinel/internal/logging"
	"github.com/dreamware/sentinel/internal/metrics"
	"github.com/dreamware/sentinel/internal/node"
)

func main() {
	cfg, err := config.Load(os.Getenv("SENTINEL_CONFIG"))
	if err != nil {
		panic(err)
	}

	log, err := logging.New(cfg.Env, cfg.NodeID)
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	reg := prometheus.NewRegistry()
	met := metrics.New(reg)

	n, err := node.New(cfg, log, met)
	if err != nil {
		log.Fatal("failed to construct node", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	n.Start(ctx)

	srv := &http.Server{
		Addr:    cfg.Listen,
		Handler: newRouter(n, reg),
	}

	go func() {
		log.Info("agent listening", zap.String("addr", cfg.Listen), zap.String("node_id", cfg.NodeID))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("http server error", zap.Error(err))
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")

	n.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn("http server shutdown error", zap.Error(err))
	}
}

func newRouter(n *node.Node, reg *prometheus.Registry) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(5 * time.Second))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	r.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	r.Get("/status", func(w http.ResponseWriter, r *http.Request) {
		writeStatus(w, n)
	})
	r.Post("/radio/metrics", func(w http.ResponseWriter, r *http.Request) {
		ingestRadioMetrics(w, r, n)
	})

	return r
}

func writeStatus(w http.ResponseWriter, n *node.Node) {
	summary := n.RadioController().PerformanceSummary()
	health := n.Membership().GetHealthMetrics()

	payload := map[string]any{
		"ota_current_version": n.OTAEngine().CurrentVersion(),
		"radio": map[string]any{
			"spreading_factor": summary.SpreadingFactor,
			"tx_power":         summary.TXPower,
			"bandwidth":        summary.Bandwidth,
			"throughput_bps":   summary.ThroughputBPS,
		},
		"membership": map[string]any{
			"active_nodes": health.ActiveNodes,
			"failed_nodes": health.FailedNodes,
			"total_nodes":  health.TotalNodes,
		},
		"sharding": map[string]any{
			"redundancy_factor": n.Sharding().RedundancyFactor(),
			"total_shards":      n.Sharding().TotalShardCount(),
		},
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(payload)
}

// radioMetricReport is the I/O loop's channel observation, posted by
// whatever process bridges the physical LoRa module into this agent.
type radioMetricReport struct {
	RSSI       float64 `json:"rssi"`
	SNR        float64 `json:"snr"`
	PacketLoss float64 `json:"packet_loss"`
}

func ingestRadioMetrics(w http.ResponseWriter, r *http.Request, n *node.Node) {
	var report radioMetricReport
	if err := json.NewDecoder(r.Body).Decode(&report); err != nil {
		http.Error(w, "invalid radio metric report", http.StatusBadRequest)
		return
	}
	n.IngestRadioMetrics(report.RSSI, report.SNR, report.PacketLoss)
	w.WriteHeader(http.StatusAccepted)
}
