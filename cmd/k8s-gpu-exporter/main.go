package main

import (
	"context"
	"log/slog"
	"os"
	"os/exec"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/KimMachineGun/automemlimit"
	_ "go.uber.org/automaxprocs"

	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"
	metricsclientset "k8s.io/metrics/pkg/client/clientset/versioned"

	"github.com/accelwatch/k8s-gpu-exporter/internal/agent"
	"github.com/accelwatch/k8s-gpu-exporter/internal/collector"
	"github.com/accelwatch/k8s-gpu-exporter/internal/collector/gpu"
	"github.com/accelwatch/k8s-gpu-exporter/internal/collector/podusage"
	"github.com/accelwatch/k8s-gpu-exporter/internal/config"
	"github.com/accelwatch/k8s-gpu-exporter/internal/discovery"
	"github.com/accelwatch/k8s-gpu-exporter/internal/health"
	"github.com/accelwatch/k8s-gpu-exporter/internal/mapping"
	"github.com/accelwatch/k8s-gpu-exporter/internal/observability"
	"github.com/accelwatch/k8s-gpu-exporter/internal/store"
	"github.com/accelwatch/k8s-gpu-exporter/pkg/model"
)

// version is injected at build time via -ldflags "-X main.version=...".
var version = "dev"

func main() {
	// 1. Load and validate config.
	cfg := config.Load()
	cfg.Version = version
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: logLevel(cfg.LogLevel),
	})))

	// 2. Create context with signal handling.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	go func() {
		sig := <-sigCh
		slog.Info("shutdown signal received", "signal", sig)
		cancel()
	}()

	slog.Info("k8s-gpu-exporter starting",
		"version", version,
		"node", cfg.NodeName,
		"collection_interval", cfg.CollectionInterval,
		"port", cfg.ExporterPort,
	)

	if _, err := exec.LookPath(cfg.RocmSmiPath); err != nil {
		slog.Warn("rocm-smi binary not found, collection cycles will fail until it appears",
			"path", cfg.RocmSmiPath)
	}

	// 3. Shared infrastructure.
	metrics := observability.NewMetrics()
	metrics.SetBuildInfo(version)
	latest := store.NewLatest[*model.Snapshot]()

	// 4. Kubernetes clients. The exporter keeps running without a cluster:
	// device readings are still collected, just never mapped to pods.
	kubeClient, metricsClient := buildClients()

	// 5. Detect optional cluster capabilities.
	podUsage := cfg.PodUsageEnabled
	if kubeClient == nil {
		slog.Warn("no cluster access, devices will be reported unmapped")
		podUsage = false
	} else {
		caps, err := discovery.Detect(ctx, kubeClient, kubeClient.Discovery())
		if err != nil {
			slog.Warn("capability detection failed, pod usage collection disabled", "error", err)
			podUsage = false
		} else {
			slog.Info("cluster capabilities detected",
				"pod_metrics", caps.PodMetrics, "pod_list", caps.PodList)
			if !caps.PodList {
				slog.Warn("pod list permission missing, devices will be reported unmapped")
			}
			if podUsage && !caps.PodMetrics {
				slog.Info("metrics.k8s.io unavailable, pod usage collection disabled")
				podUsage = false
			}
		}
	}

	// 6. Register collectors.
	runner := gpu.NewSMIRunner(cfg.RocmSmiPath, cfg.ToolTimeout)
	mapper := mapping.New(kubeClient, cfg.NodeName, cfg.MappingTimeout)

	registry := collector.NewRegistry()
	registry.Register(gpu.NewCollector(runner, mapper, metrics, latest, cfg.NodeName, cfg.CollectionInterval))
	if podUsage && metricsClient != nil {
		registry.Register(podusage.NewCollectorFromClient(
			metricsClient.MetricsV1beta1(), latest, metrics, cfg.NodeName, cfg.PodUsageInterval,
		))
	}

	// 7. Agent and exposition server. First cycles are bounded by the tool
	// and mapping timeouts; anything beyond that plus slack is a wedged start.
	syncTimeout := cfg.ToolTimeout + cfg.MappingTimeout + 30*time.Second
	ag := agent.New(registry, latest, syncTimeout)

	healthSrv := health.NewServer(cfg.ExporterPort, metrics, ag, ag, cfg.DebugEndpoints)
	if err := healthSrv.Start(); err != nil {
		slog.Error("failed to start exposition server", "error", err)
		os.Exit(1)
	}

	// 8. Run until the context is canceled.
	if err := ag.Run(ctx); err != nil && ctx.Err() == nil {
		slog.Error("exporter exited with error", "error", err)
	}

	// 9. Graceful shutdown.
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := healthSrv.Stop(shutdownCtx); err != nil {
		slog.Error("exposition server shutdown error", "error", err)
	}

	slog.Info("k8s-gpu-exporter stopped")
}

// buildClients constructs the Kubernetes and metrics.k8s.io clients.
// Any failure degrades to nil rather than aborting: collection works without
// a cluster, it just loses workload mapping and usage enrichment.
func buildClients() (kubernetes.Interface, *metricsclientset.Clientset) {
	restCfg := buildKubeConfig()
	if restCfg == nil {
		return nil, nil
	}

	kubeClient, err := kubernetes.NewForConfig(restCfg)
	if err != nil {
		slog.Warn("failed to build kubernetes client", "error", err)
		return nil, nil
	}

	metricsClient, err := metricsclientset.NewForConfig(restCfg)
	if err != nil {
		slog.Warn("failed to build metrics client, pod usage collection disabled", "error", err)
		return kubeClient, nil
	}

	return kubeClient, metricsClient
}

// buildKubeConfig creates a Kubernetes REST config.
// It tries in-cluster config first, then falls back to kubeconfig file
// (from $KUBECONFIG or the default ~/.kube/config). Returns nil when neither
// is available.
func buildKubeConfig() *rest.Config {
	cfg, err := rest.InClusterConfig()
	if err == nil {
		slog.Info("using in-cluster kubernetes config")
		return cfg
	}

	kubeconfig := os.Getenv("KUBECONFIG")
	if kubeconfig == "" {
		kubeconfig = clientcmd.RecommendedHomeFile
	}

	cfg, err = clientcmd.BuildConfigFromFlags("", kubeconfig)
	if err != nil {
		slog.Warn("no kubernetes config available", "error", err)
		return nil
	}
	slog.Info("using kubeconfig file", "path", kubeconfig)
	return cfg
}

func logLevel(s string) slog.Level {
	switch s {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
