package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
)

// Readiness checks the optional dependencies. A dependency that is not
// configured does not make the edge unready.
type Readiness struct {
	redisClient *redis.Client
	natsConn    *nats.Conn
}

func NewReadiness(redisClient *redis.Client, nc *nats.Conn) *Readiness {
	return &Readiness{redisClient: redisClient, natsConn: nc}
}

// Dependencies returns a status per dependency and whether all configured ones are up.
func (r *Readiness) Dependencies(ctx context.Context) (map[string]string, bool) {
	status := make(map[string]string, 2)
	ready := true

	switch {
	case r.redisClient == nil:
		status["redis"] = "not_configured"
	case r.redisClient.Ping(ctx).Err() == nil:
		status["redis"] = "connected"
	default:
		status["redis"] = "disconnected"
		ready = false
	}

	switch {
	case r.natsConn == nil:
		status["nats"] = "not_configured"
	case r.natsConn.Status() == nats.CONNECTED:
		status["nats"] = "connected"
	default:
		status["nats"] = strings.ToLower(r.natsConn.Status().String())
		ready = false
	}
	return status, ready
}

// Probe returns an error naming every dependency that is down.
func (r *Readiness) Probe(ctx context.Context) error {
	status, ready := r.Dependencies(ctx)
	if ready {
		return nil
	}
	var errs []error
	for name, s := range status {
		if s != "connected" && s != "not_configured" {
			errs = append(errs, fmt.Errorf("%s %s", name, s))
		}
	}
	return errors.Join(errs...)
}
