package main

import (
	"context"
	"net/http"
	"os"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"playproof/pkg/calibration"
	"playproof/pkg/classifier"
	otelobs "playproof/pkg/observability/otel"
	"playproof/pkg/pipeline"
	"playproof/pkg/session"
	"playproof/pkg/structlog"
)

func main() {
	_ = godotenv.Load()

	cfg := loadConfig()
	logger := structlog.New("playproof-scoring", structlog.ParseLevel(os.Getenv("LOG_LEVEL")), os.Stdout)

	// A typo'd threshold must kill the process, not run fail-open.
	if err := cfg.Pipeline.Decision.Validate(); err != nil {
		logger.Error("invalid decision thresholds", structlog.Fields{"error": err.Error()})
		os.Exit(1)
	}

	// Session store: in-process by default, Redis-backed when shared
	// state across replicas is wanted.
	var store session.Store
	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		client := redis.NewClient(&redis.Options{Addr: addr})
		rs, err := session.NewRedisStore(context.Background(), client, cfg.Session)
		if err != nil {
			logger.Error("redis session store init failed", structlog.Fields{"error": err.Error()})
			os.Exit(1)
		}
		store = rs
		logger.Info("using redis session store", structlog.Fields{"addr": addr})
	} else {
		store = session.NewMemoryStore(cfg.Session)
	}
	defer store.Close()

	// Classifier: a trained artifact when provided, the baseline
	// otherwise.
	models := classifier.NewRegistry()
	var model classifier.Model
	if path := os.Getenv("MODEL_PATH"); path != "" {
		m, err := classifier.LoadArtifact(path)
		if err != nil {
			logger.Error("model artifact load failed", structlog.Fields{"path": path, "error": err.Error()})
			os.Exit(1)
		}
		model = m
	} else {
		model = classifier.DefaultModel()
	}
	if err := models.Register(model, "primary"); err != nil {
		logger.Error("model registration failed", structlog.Fields{"error": err.Error()})
		os.Exit(1)
	}

	var cal *calibration.Calibrator
	if path := os.Getenv("CALIBRATION_PATH"); path != "" {
		c, err := calibration.LoadFile(path)
		if err != nil {
			logger.Error("calibration load failed", structlog.Fields{"path": path, "error": err.Error()})
			os.Exit(1)
		}
		cal = c
	} else {
		c, err := calibration.NewCalibrator(calibration.DefaultTable(model.Version()))
		if err != nil {
			logger.Error("calibration init failed", structlog.Fields{"error": err.Error()})
			os.Exit(1)
		}
		cal = c
	}

	pipe, err := pipeline.New(cfg.Pipeline, store, models, classifier.NewPool(cfg.PoolSize), cal, logger)
	if err != nil {
		logger.Error("pipeline init failed", structlog.Fields{"error": err.Error()})
		os.Exit(1)
	}

	// Verdict audit trail, optional.
	var auditor *ScoreAuditor
	if os.Getenv("DISABLE_DB") != "true" {
		if dbURL := os.Getenv("DATABASE_URL"); dbURL != "" {
			a, err := NewScoreAuditor(dbURL, logger)
			if err != nil {
				logger.Error("audit store init failed", structlog.Fields{"error": err.Error()})
				os.Exit(1)
			}
			auditor = a
			defer auditor.Close()
		}
	}

	srv := &server{pipe: pipe, models: models, cal: cal, auditor: auditor, log: logger}

	mux := http.NewServeMux()
	mux.HandleFunc("/score", srv.handleScore)
	mux.HandleFunc("/health", srv.handleHealth)
	mux.HandleFunc("/models", srv.handleModels)
	mux.Handle("/metrics", promhttp.Handler())

	shutdown := otelobs.InitTracer("playproof-scoring")
	defer shutdown(context.Background())

	h := otelobs.WrapHTTPHandler("playproof-scoring", mux)

	logger.Info("scoring service starting", structlog.Fields{
		"port":          cfg.Port,
		"model_version": models.ActiveVersion(),
	})
	if err := http.ListenAndServe(":"+cfg.Port, h); err != nil {
		logger.Error("server exited", structlog.Fields{"error": err.Error()})
		os.Exit(1)
	}
}
