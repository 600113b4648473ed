package service

import (
	"context"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"smart-progress/internal/logger"
)

const (
	Healthy   = "healthy"
	Degraded  = "degraded"
	Unhealthy = "unhealthy"
)

// Pinger is anything whose connectivity can be probed.
type Pinger interface {
	Ping(ctx context.Context) error
}

type ComponentHealth struct {
	Name        string    `json:"name"`
	Status      string    `json:"status"`
	Message     string    `json:"message,omitempty"`
	LastChecked time.Time `json:"last_checked"`
}

type HealthReport struct {
	Status     string            `json:"status"`
	Components []ComponentHealth `json:"components"`
	Timestamp  time.Time         `json:"timestamp"`
}

type healthCheck struct {
	name     string
	pinger   Pinger
	optional bool
}

// HealthService probes the external collaborators. A failing optional component
// degrades the overall status, a failing required one makes it unhealthy.
type HealthService struct {
	checks  []healthCheck
	timeout time.Duration
	scrub   func(string) string
}

func NewHealthService(timeout time.Duration, scrub func(string) string) *HealthService {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	if scrub == nil {
		scrub = func(s string) string { return s }
	}
	return &HealthService{timeout: timeout, scrub: scrub}
}

// Register adds a component. Nil pingers are ignored so unconfigured
// integrations can be passed straight through.
func (h *HealthService) Register(name string, p Pinger, optional bool) {
	if p == nil {
		return
	}
	h.checks = append(h.checks, healthCheck{name: name, pinger: p, optional: optional})
}

func (h *HealthService) Check(ctx context.Context) HealthReport {
	var (
		mu  sync.Mutex
		out = HealthReport{Status: Healthy, Timestamp: time.Now()}
	)
	var g errgroup.Group
	for _, c := range h.checks {
		g.Go(func() error {
			cctx, cancel := context.WithTimeout(ctx, h.timeout)
			defer cancel()
			res := ComponentHealth{Name: c.name, Status: Healthy, LastChecked: time.Now()}
			if err := c.pinger.Ping(cctx); err != nil {
				res.Status = Unhealthy
				if c.optional {
					res.Status = Degraded
				}
				res.Message = h.scrub(err.Error())
				logger.Warn("health.check_failed", "component", c.name, "err", res.Message)
			}
			mu.Lock()
			out.Components = append(out.Components, res)
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	sort.Slice(out.Components, func(i, j int) bool { return out.Components[i].Name < out.Components[j].Name })
	for _, c := range out.Components {
		switch {
		case c.Status == Unhealthy:
			out.Status = Unhealthy
		case c.Status == Degraded && out.Status == Healthy:
			out.Status = Degraded
		}
	}
	return out
}
