package routes

import (
	"context"
	"time"
)

// ComponentHealth is one dependency's entry in the health report.
type ComponentHealth struct {
	Status  string
	Healthy bool
	Error   string
}

// HealthCheck probes one dependency. Name is the key in the report.
type HealthCheck struct {
	Name  string
	Check func(ctx context.Context) ComponentHealth
}

// Pinger is satisfied by the delivery store and the redis repository.
type Pinger interface {
	Ping(ctx context.Context) error
}

// StatusCheck wraps a status getter such as the broker manager's. healthy
// reports whether status counts as up.
func StatusCheck(name string, status func() (value string, healthy bool)) HealthCheck {
	return HealthCheck{
		Name: name,
		Check: func(context.Context) ComponentHealth {
			value, healthy := status()
			h := ComponentHealth{Status: value, Healthy: healthy}
			if !healthy {
				h.Error = "connection not established"
			}
			return h
		},
	}
}

// PingCheck reports connected or disconnected based on a ping.
func PingCheck(name string, p Pinger) HealthCheck {
	return HealthCheck{
		Name: name,
		Check: func(ctx context.Context) ComponentHealth {
			if p == nil {
				return ComponentHealth{Status: "disconnected", Error: "not configured"}
			}
			if err := p.Ping(ctx); err != nil {
				return ComponentHealth{Status: "disconnected", Error: err.Error()}
			}
			return ComponentHealth{Status: "connected", Healthy: true}
		},
	}
}

// InitializedCheck reports whether a client was built at startup.
func InitializedCheck(name string, initialized bool) HealthCheck {
	return HealthCheck{
		Name: name,
		Check: func(context.Context) ComponentHealth {
			if !initialized {
				return ComponentHealth{Status: "not_initialized", Error: "client not initialized"}
			}
			return ComponentHealth{Status: "initialized", Healthy: true}
		},
	}
}

// runChecks runs every check concurrently under a shared deadline.
func runChecks(ctx context.Context, checks []HealthCheck, timeout time.Duration) map[string]ComponentHealth {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type result struct {
		name string
		h    ComponentHealth
	}
	results := make(chan result, len(checks))
	for _, c := range checks {
		go func(c HealthCheck) {
			results <- result{name: c.Name, h: c.Check(ctx)}
		}(c)
	}

	out := make(map[string]ComponentHealth, len(checks))
	for range checks {
		r := <-results
		out[r.name] = r.h
	}
	return out
}
