// Package health exposes per-source serving status over the standard gRPC
// health protocol, driven by reconciliation cycle reports.
package health

import (
	"context"
	"sync"

	"google.golang.org/grpc"
	grpchealth "google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/signalsfoundry/globe-tracker/internal/logging"
	"github.com/signalsfoundry/globe-tracker/internal/reconcile"
)

// DefaultFailureThreshold is the number of consecutive failed fetches after
// which a source is reported NOT_SERVING.
const DefaultFailureThreshold = 3

// Checker tracks consecutive fetch failures per source and mirrors them into
// a gRPC health server. The empty service name reflects the worst source.
type Checker struct {
	srv       *grpchealth.Server
	threshold int
	log       logging.Logger

	mu       sync.Mutex
	failures map[string]int
}

// NewChecker returns a checker. A threshold below one uses
// DefaultFailureThreshold.
func NewChecker(threshold int, log logging.Logger) *Checker {
	if threshold < 1 {
		threshold = DefaultFailureThreshold
	}
	if log == nil {
		log = logging.Noop()
	}
	srv := grpchealth.NewServer()
	srv.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
	return &Checker{
		srv:       srv,
		threshold: threshold,
		log:       log,
		failures:  make(map[string]int),
	}
}

// Track declares a source so that it reports NOT_SERVING until its first
// successful cycle.
func (c *Checker) Track(source string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.failures[source]; ok {
		return
	}
	c.failures[source] = c.threshold
	c.publishLocked(source)
}

// RecordCycle implements reconcile.MetricsRecorder. Discarded cycles do not
// change the status.
func (c *Checker) RecordCycle(rep reconcile.CycleReport) {
	switch rep.Outcome {
	case reconcile.OutcomeOK:
		c.mu.Lock()
		prev, known := c.failures[rep.Source]
		c.failures[rep.Source] = 0
		c.publishLocked(rep.Source)
		c.mu.Unlock()
		if known && prev >= c.threshold {
			c.log.Info(context.Background(), "source recovered", logging.String("source", rep.Source))
		}
	case reconcile.OutcomeFetchError:
		c.mu.Lock()
		c.failures[rep.Source]++
		n := c.failures[rep.Source]
		c.publishLocked(rep.Source)
		c.mu.Unlock()
		if n == c.threshold {
			c.log.Warn(context.Background(), "source unhealthy",
				logging.String("source", rep.Source),
				logging.Int("consecutive_failures", n),
				logging.Err(rep.Err),
			)
		}
	}
}

// Status reports the current status of source, or of all sources when source
// is empty.
func (c *Checker) Status(source string) healthpb.HealthCheckResponse_ServingStatus {
	c.mu.Lock()
	defer c.mu.Unlock()
	if source == "" {
		return c.overallLocked()
	}
	n, ok := c.failures[source]
	if !ok {
		return healthpb.HealthCheckResponse_SERVICE_UNKNOWN
	}
	return c.statusFor(n)
}

// Register attaches the health service to s.
func (c *Checker) Register(s grpc.ServiceRegistrar) {
	healthpb.RegisterHealthServer(s, c.srv)
}

// Shutdown marks every service NOT_SERVING and ignores later updates.
func (c *Checker) Shutdown() {
	c.srv.Shutdown()
}

func (c *Checker) statusFor(failures int) healthpb.HealthCheckResponse_ServingStatus {
	if failures >= c.threshold {
		return healthpb.HealthCheckResponse_NOT_SERVING
	}
	return healthpb.HealthCheckResponse_SERVING
}

func (c *Checker) overallLocked() healthpb.HealthCheckResponse_ServingStatus {
	if len(c.failures) == 0 {
		return healthpb.HealthCheckResponse_NOT_SERVING
	}
	for _, n := range c.failures {
		if n >= c.threshold {
			return healthpb.HealthCheckResponse_NOT_SERVING
		}
	}
	return healthpb.HealthCheckResponse_SERVING
}

func (c *Checker) publishLocked(source string) {
	c.srv.SetServingStatus(source, c.statusFor(c.failures[source]))
	c.srv.SetServingStatus("", c.overallLocked())
}
