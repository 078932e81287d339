// Command clusternode runs a single replicated-log node: a Log
// Publisher bound to a local recording, a Timer Service driven by the
// duty cycle, and an optional etcd-backed snapshot store, wired exactly
// as the component table in SPEC_FULL.md describes for a single-node
// deployment.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/novatechflow/clusterlog/pkg/agent"
	"github.com/novatechflow/clusterlog/pkg/archive"
	"github.com/novatechflow/clusterlog/pkg/metrics"
	"github.com/novatechflow/clusterlog/pkg/publisher"
	"github.com/novatechflow/clusterlog/pkg/snapshotstore"
	"github.com/novatechflow/clusterlog/pkg/timer"
	"github.com/novatechflow/clusterlog/pkg/transport"
)

const (
	defaultMetricsAddr     = ":9094"
	defaultArchiveDir      = "/var/lib/clusterlog/archive"
	defaultRecordingID     = 1
	defaultStreamID        = 1
	defaultSessionID       = 1
	defaultTermLength      = 16 << 20
	defaultSegmentLength   = 128 << 20
	defaultMaxPayloadLen   = 1376
	defaultIndexInterval   = 4096
	defaultTickMs          = 20
	defaultSnapshotSec     = 10
	defaultLeadershipTerm  = 0
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	logger := newLogger()

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	rec, err := buildRecorder(logger)
	if err != nil {
		logger.Error("failed to open recording", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := rec.Close(); err != nil {
			logger.Error("recorder close failed", "error", err)
		}
	}()

	pub, err := transport.NewLocalPublication(transport.LocalPublicationConfig{
		SessionID:        intToInt32(parseEnvInt("CLUSTERLOG_SESSION_ID", defaultSessionID), defaultSessionID),
		StreamID:         intToInt32(parseEnvInt("CLUSTERLOG_STREAM_ID", defaultStreamID), defaultStreamID),
		InitialTermID:    0,
		TermLength:       intToInt32(parseEnvInt("CLUSTERLOG_TERM_LENGTH", defaultTermLength), defaultTermLength),
		MaxPayloadLength: intToInt32(parseEnvInt("CLUSTERLOG_MAX_PAYLOAD", defaultMaxPayloadLen), defaultMaxPayloadLen),
	}, rec)
	if err != nil {
		logger.Error("failed to create local publication", "error", err)
		os.Exit(1)
	}

	logPub := publisher.New(m)
	logPub.Bind(pub)

	wheel := timer.NewWheel(time.Now().UnixNano(), int64(time.Millisecond), 512)

	store := buildSnapshotStore(logger)

	dc := agent.New(logPub, wheel, store, m, agent.Config{
		TickInterval:     time.Duration(parseEnvInt("CLUSTERLOG_TICK_MS", defaultTickMs)) * time.Millisecond,
		SnapshotInterval: time.Duration(parseEnvInt("CLUSTERLOG_SNAPSHOT_INTERVAL_SEC", defaultSnapshotSec)) * time.Second,
		LeadershipTermID: int64(parseEnvInt("CLUSTERLOG_LEADERSHIP_TERM_ID", defaultLeadershipTerm)),
		Logger:           logger,
	})

	metricsAddr := envOrDefault("CLUSTERLOG_METRICS_ADDR", defaultMetricsAddr)
	startMetricsServer(ctx, metricsAddr, reg, logger)

	logger.Info("clusternode starting",
		"recording_id", rec.Summary().RecordingID,
		"stream_id", rec.Summary().StreamID,
		"metrics_addr", metricsAddr,
		"snapshot_store", snapshotStoreName(store),
	)

	dc.Run(ctx)
	dc.Stop()
	logger.Info("clusternode stopped")
}

// buildRecorder opens (or creates) the local recording this node appends
// to, sized per spec.md §6's segment/term geometry.
func buildRecorder(logger *slog.Logger) (*archive.Recorder, error) {
	dir := envOrDefault("CLUSTERLOG_ARCHIVE_DIR", defaultArchiveDir)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create archive dir: %w", err)
	}

	s3Client, err := buildS3Client(logger)
	if err != nil {
		return nil, err
	}

	health := archive.NewArchiveHealthMonitor(archive.HealthConfig{
		Window:      time.Duration(parseEnvInt("CLUSTERLOG_ARCHIVE_HEALTH_WINDOW_SEC", 60)) * time.Second,
		LatencyWarn: time.Duration(parseEnvInt("CLUSTERLOG_ARCHIVE_LATENCY_WARN_MS", 500)) * time.Millisecond,
		LatencyCrit: time.Duration(parseEnvInt("CLUSTERLOG_ARCHIVE_LATENCY_CRIT_MS", 3000)) * time.Millisecond,
		ErrorWarn:   parseEnvFloat("CLUSTERLOG_ARCHIVE_ERROR_RATE_WARN", 0.2),
		ErrorCrit:   parseEnvFloat("CLUSTERLOG_ARCHIVE_ERROR_RATE_CRIT", 0.6),
	})

	cfg := archive.RecorderConfig{
		RecordingID:   int64(parseEnvInt("CLUSTERLOG_RECORDING_ID", defaultRecordingID)),
		ArchiveDir:    dir,
		StreamID:      intToInt32(parseEnvInt("CLUSTERLOG_STREAM_ID", defaultStreamID), defaultStreamID),
		InitialTermID: 0,
		StartPosition: 0,
		TermLength:    intToInt32(parseEnvInt("CLUSTERLOG_TERM_LENGTH", defaultTermLength), defaultTermLength),
		SegmentLength: intToInt32(parseEnvInt("CLUSTERLOG_SEGMENT_LENGTH", defaultSegmentLength), defaultSegmentLength),
		IndexInterval: intToInt32(parseEnvInt("CLUSTERLOG_INDEX_INTERVAL", defaultIndexInterval), defaultIndexInterval),
	}

	return archive.NewRecorder(cfg, func(seg archive.SealedSegment) {
		sealSegmentToDurableTier(s3Client, health, cfg.RecordingID, seg, logger)
	})
}

// sealSegmentToDurableTier uploads a sealed local segment and its index
// to the durable tier off the hot write path, recording latency/error
// health so the duty cycle could, in a future leadership role, fall back
// to local-only recording when the durable tier degrades.
func sealSegmentToDurableTier(s3Client archive.S3Client, health *archive.ArchiveHealthMonitor, recordingID int64, seg archive.SealedSegment, logger *slog.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	segKey := fmt.Sprintf("recordings/%d/%d.rec", recordingID, seg.SegmentIndex)
	start := time.Now()
	err := s3Client.UploadSegment(ctx, segKey, seg.SegmentBytes)
	health.RecordOperation(archive.OpUploadSegment, time.Since(start), err)
	if err != nil {
		logger.Error("seal segment upload failed", "error", err, "recording_id", recordingID, "segment_index", seg.SegmentIndex)
		return
	}

	idxKey := fmt.Sprintf("recordings/%d/%d.idx", recordingID, seg.SegmentIndex)
	start = time.Now()
	err = s3Client.UploadIndex(ctx, idxKey, seg.IndexBytes)
	health.RecordOperation(archive.OpUploadIndex, time.Since(start), err)
	if err != nil {
		logger.Error("seal index upload failed", "error", err, "recording_id", recordingID, "segment_index", seg.SegmentIndex)
	}
}

func buildS3Client(logger *slog.Logger) (archive.S3Client, error) {
	if parseEnvBool("CLUSTERLOG_USE_MEMORY_S3", true) {
		logger.Info("using in-memory durable tier", "env", "CLUSTERLOG_USE_MEMORY_S3=1")
		return archive.NewMemoryS3Client(), nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	cfg := archive.S3Config{
		Bucket:          envOrDefault("CLUSTERLOG_S3_BUCKET", "clusterlog"),
		Region:          envOrDefault("CLUSTERLOG_S3_REGION", "us-east-1"),
		Endpoint:        os.Getenv("CLUSTERLOG_S3_ENDPOINT"),
		ForcePathStyle:  parseEnvBool("CLUSTERLOG_S3_PATH_STYLE", true),
		AccessKeyID:     os.Getenv("CLUSTERLOG_S3_ACCESS_KEY"),
		SecretAccessKey: os.Getenv("CLUSTERLOG_S3_SECRET_KEY"),
		SessionToken:    os.Getenv("CLUSTERLOG_S3_SESSION_TOKEN"),
		KMSKeyARN:       os.Getenv("CLUSTERLOG_S3_KMS_ARN"),
	}
	client, err := archive.NewS3Client(ctx, cfg)
	if err != nil {
		logger.Error("failed to create S3 client; using in-memory", "error", err, "bucket", cfg.Bucket)
		return archive.NewMemoryS3Client(), nil
	}
	if err := client.EnsureBucket(ctx); err != nil {
		return nil, fmt.Errorf("ensure s3 bucket: %w", err)
	}
	logger.Info("using S3-compatible durable tier", "bucket", cfg.Bucket, "region", cfg.Region, "endpoint", cfg.Endpoint)
	return client, nil
}

func buildSnapshotStore(logger *slog.Logger) agent.SnapshotStore {
	endpoints := strings.TrimSpace(os.Getenv("CLUSTERLOG_ETCD_ENDPOINTS"))
	if endpoints == "" {
		logger.Info("no etcd endpoints configured; timer snapshots disabled")
		return nil
	}
	store, err := snapshotstore.NewEtcdStore(snapshotstore.EtcdStoreConfig{
		Endpoints: strings.Split(endpoints, ","),
		Username:  os.Getenv("CLUSTERLOG_ETCD_USERNAME"),
		Password:  os.Getenv("CLUSTERLOG_ETCD_PASSWORD"),
		Key:       envOrDefault("CLUSTERLOG_ETCD_SNAPSHOT_KEY", ""),
	})
	if err != nil {
		logger.Error("failed to connect to etcd; timer snapshots disabled", "error", err)
		return nil
	}
	logger.Info("using etcd-backed timer snapshot store", "endpoints", endpoints)
	return store
}

func snapshotStoreName(store agent.SnapshotStore) string {
	if store == nil {
		return "none"
	}
	return "etcd"
}

func startMetricsServer(ctx context.Context, addr string, reg *prometheus.Registry, logger *slog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		fmt.Fprintln(w, "ok")
	})

	srv := &http.Server{Addr: addr, Handler: mux}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server error", "error", err)
		}
	}()
}

func newLogger() *slog.Logger {
	level := slog.LevelInfo
	switch strings.ToLower(os.Getenv("CLUSTERLOG_LOG_LEVEL")) {
	case "debug":
		level = slog.LevelDebug
	case "warn", "warning":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level:     level,
		AddSource: true,
	})
	return slog.New(handler).With("component", "clusternode")
}

func envOrDefault(name, fallback string) string {
	if val := strings.TrimSpace(os.Getenv(name)); val != "" {
		return val
	}
	return fallback
}

func parseEnvInt(name string, fallback int) int {
	if val := strings.TrimSpace(os.Getenv(name)); val != "" {
		if parsed, err := strconv.Atoi(val); err == nil {
			return parsed
		}
	}
	return fallback
}

func parseEnvFloat(name string, fallback float64) float64 {
	if val := strings.TrimSpace(os.Getenv(name)); val != "" {
		if parsed, err := strconv.ParseFloat(val, 64); err == nil {
			return parsed
		}
	}
	return fallback
}

func parseEnvBool(name string, fallback bool) bool {
	if val := strings.TrimSpace(os.Getenv(name)); val != "" {
		switch strings.ToLower(val) {
		case "1", "true", "yes", "on":
			return true
		case "0", "false", "no", "off":
			return false
		}
	}
	return fallback
}

func intToInt32(value int, fallback int32) int32 {
	const minInt32 = -1 << 31
	const maxInt32 = 1<<31 - 1
	if value < minInt32 || value > maxInt32 {
		return fallback
	}
	return int32(value)
}
