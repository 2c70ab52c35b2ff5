package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/mattn/go-shellwords"
	"github.com/sirupsen/logrus"

	"github.com/BasicFist/rwc/pkg/audioio"
	"github.com/BasicFist/rwc/pkg/convconfig"
	"github.com/BasicFist/rwc/pkg/metrics"
	"github.com/BasicFist/rwc/pkg/pipeline"
	rwctrace "github.com/BasicFist/rwc/pkg/trace"
)

func main() {
	godotenv.Load()

	log := logrus.New()
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	ctx := context.Background()
	traceCfg := rwctrace.DefaultConfig()
	if err := rwctrace.Initialize(ctx, traceCfg); err != nil {
		log.WithError(err).Warn("tracing initialization failed, continuing without spans")
	} else {
		defer rwctrace.Shutdown(ctx)
	}

	cfg, err := buildConfig()
	if err != nil {
		log.WithError(err).Fatal("invalid configuration")
	}

	be, err := buildBackend(cfg, log)
	if err != nil {
		log.WithError(err).Fatal("failed to construct conversion backend")
	}

	p := pipeline.New(cfg, be, log)

	exporter, err := metrics.NewExporter(p.MetricsHandle(), p.ID())
	if err != nil {
		log.WithError(err).Warn("metrics exporter unavailable")
	} else {
		go serveMetrics(exporter, log)
		defer exporter.Shutdown(ctx)
	}

	if err := p.Start(); err != nil {
		log.WithError(err).Fatal("pipeline failed to start")
	}

	device, err := buildAudioIO(cfg, p, log)
	if err != nil {
		log.WithError(err).Fatal("invalid audioio configuration")
	}
	if err := device.Start(ctx); err != nil {
		log.WithError(err).Fatal("audioio failed to start")
	}

	p.SetMetricsCallback(func(snap metrics.Snapshot) {
		log.WithFields(logrus.Fields{
			"chunks_processed": snap.ChunksProcessed,
			"chunks_dropped":   snap.ChunksDropped,
			"ema_ms":           snap.EMAProcessingMs,
			"latency_ms":       snap.EstimatedLatencyMs,
		}).Debug("metrics tick")
	}, 500*time.Millisecond)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	log.Info("shutting down")
	_ = device.Stop()
	_ = p.Stop()
}

// buildAudioIO selects the capture/playback boundary: a native audio
// device by default, or an external streaming sub-process when
// RWC_AUDIO_IO=subprocess names a command via RWC_SUBPROCESS_COMMAND.
func buildAudioIO(cfg *convconfig.Config, p *pipeline.Pipeline, log *logrus.Logger) (audioio.AudioIO, error) {
	switch envString("RWC_AUDIO_IO", "device") {
	case "subprocess":
		argv, err := shellwords.Parse(envString("RWC_SUBPROCESS_COMMAND", ""))
		if err != nil || len(argv) == 0 {
			return nil, fmt.Errorf("invalid RWC_SUBPROCESS_COMMAND: %w", err)
		}
		return audioio.NewSubprocessIO(argv, p, log), nil
	default:
		return audioio.NewDeviceIO(audioio.DefaultDeviceConfig(), cfg.ChunkSize, p, log), nil
	}
}

func buildConfig() (*convconfig.Config, error) {
	chunkSize := envInt("RWC_CHUNK_SIZE", 4096)
	pitchShift := envInt("RWC_PITCH_SHIFT", 0)
	indexRate := envFloat("RWC_INDEX_RATE", 0.75)
	modelID := envString("RWC_MODEL_ID", "default")

	backendKind := convconfig.BackendBatchAdapter
	if envString("RWC_BACKEND", "batch_adapter") == "streaming" {
		backendKind = convconfig.BackendStreaming
	}

	cfg, err := convconfig.New(modelID, chunkSize, convconfig.WorkingSampleRate, pitchShift, indexRate, convconfig.PitchMethodRMVPE, backendKind)
	if err != nil {
		return nil, err
	}

	switch backendKind {
	case convconfig.BackendBatchAdapter:
		cfg = cfg.WithBatchAdapterCommand(envString("RWC_CONVERTER_COMMAND", ""))
	case convconfig.BackendStreaming:
		cfg = cfg.WithStreamingModels(
			envString("RWC_CONTENT_EMBEDDER_MODEL", ""),
			envString("RWC_PITCH_PREDICTOR_MODEL", ""),
			envString("RWC_SYNTHESIS_MODEL", ""),
		)
	}
	return cfg, nil
}

func serveMetrics(exporter *metrics.Exporter, log *logrus.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", exporter.Handler())
	addr := envString("RWC_METRICS_ADDR", ":9090")
	log.WithField("addr", addr).Info("serving prometheus metrics")
	if err := http.ListenAndServe(addr, mux); err != nil {
		log.WithError(err).Warn("metrics server stopped")
	}
}

func envString(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func envFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}
