package messaging

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	petname "github.com/dustinkirkland/golang-petname"

	"eisenbahn/internal/logging"
)

// WorkerHealth is the state a Worker reports on its health-ping topic.
type WorkerHealth string

const (
	Healthy   WorkerHealth = "healthy"
	Unhealthy WorkerHealth = "unhealthy"
)

// Worker is anything with a name and a start/stop lifecycle (§4.8 "Worker
// lifecycle"), e.g. a Puller loop bound to a compute task.
type Worker interface {
	Name() string
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

// WorkerRuntimeConfig tunes the health ping cadence and shutdown timeout.
type WorkerRuntimeConfig struct {
	HealthTopic    string
	PingInterval   time.Duration
	ShutdownGrace  time.Duration
}

func (c WorkerRuntimeConfig) resolvedPingInterval() time.Duration {
	if c.PingInterval > 0 {
		return c.PingInterval
	}
	return 30 * time.Second
}

func (c WorkerRuntimeConfig) resolvedShutdownGrace() time.Duration {
	if c.ShutdownGrace > 0 {
		return c.ShutdownGrace
	}
	return 10 * time.Second
}

// ResolveWorkerName returns configured unchanged when non-empty, otherwise
// generates a human-readable two-word name (e.g. "curious-otter") so
// operators can tell worker processes apart in logs and health pings
// without having to assign ids by hand.
func ResolveWorkerName(configured string) string {
	if configured != "" {
		return configured
	}
	return petname.Generate(2, "-")
}

// RunWorker starts w, publishes periodic health pings on the
// "eisenbahn.worker.health" topic via pub, and blocks until ctx is
// cancelled or a SIGINT/SIGTERM arrives. The topic is fixed in
// publishHealth; config.HealthTopic is not read.
// On shutdown it cancels the ping timer, calls w.Stop with a bounded
// timeout (logging and proceeding if it does not return in time), and
// emits a terminal Unhealthy ping.
func RunWorker(ctx context.Context, w Worker, pub *Publisher, config WorkerRuntimeConfig, now func() time.Time, logger *slog.Logger) error {
	log := logging.Default(logger).With("component", "messaging.worker", "worker", w.Name())

	sigCtx, stopSignals := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stopSignals()

	if err := w.Start(sigCtx); err != nil {
		return err
	}

	publishHealth(pub, w.Name(), Healthy, now, log)

	ticker := time.NewTicker(config.resolvedPingInterval())
	defer ticker.Stop()

loop:
	for {
		select {
		case <-sigCtx.Done():
			break loop
		case <-ticker.C:
			publishHealth(pub, w.Name(), Healthy, now, log)
		}
	}

	log.Info("worker shutting down")
	stopCtx, cancel := context.WithTimeout(context.Background(), config.resolvedShutdownGrace())
	defer cancel()

	stopDone := make(chan error, 1)
	go func() { stopDone <- w.Stop(stopCtx) }()

	select {
	case err := <-stopDone:
		if err != nil {
			log.Warn("worker stop returned error", "error", err)
		}
	case <-stopCtx.Done():
		log.Warn("worker stop timed out, proceeding with shutdown")
	}

	publishHealth(pub, w.Name(), Unhealthy, now, log)
	return nil
}

func publishHealth(pub *Publisher, workerName string, health WorkerHealth, now func() time.Time, log *slog.Logger) {
	if pub == nil {
		return
	}
	type healthPing struct {
		Worker string       `msgpack:"worker"`
		Status WorkerHealth `msgpack:"status"`
	}
	env, err := NewEnvelope("eisenbahn.worker.health", healthPing{Worker: workerName, Status: health}, now())
	if err != nil {
		log.Warn("failed to build health ping", "error", err)
		return
	}
	if err := pub.Publish(env); err != nil {
		log.Warn("failed to publish health ping", "error", err)
	}
}
