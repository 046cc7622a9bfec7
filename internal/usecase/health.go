package usecase

import (
	"math"
	"time"

	"github.com/signalmesh/router/internal/domain"
	"github.com/signalmesh/router/internal/service/breaker"
)

// DBPinger is the narrow pool surface the health check needs.
type DBPinger interface {
	Ping(ctx domain.Context) error
}

// ComponentStatus reports one dependency's health.
type ComponentStatus struct {
	Status string `json:"status"`
	Detail string `json:"detail,omitempty"`
}

// HealthReport is the /health response body.
type HealthReport struct {
	Status     string                     `json:"status"`
	Components map[string]ComponentStatus `json:"components"`
	LatencyMS  float64                    `json:"latency_ms"`
}

// HealthService checks the database and downstream agent circuits.
type HealthService struct {
	DB      DBPinger
	Breaker *breaker.Breaker
}

// NewHealthService constructs a HealthService.
func NewHealthService(db DBPinger, br *breaker.Breaker) HealthService {
	return HealthService{DB: db, Breaker: br}
}

// Check probes every component. The returned bool is false only when the
// database is unreachable; degraded agents keep the service serving.
func (s HealthService) Check(ctx domain.Context) (HealthReport, bool) {
	start := time.Now()
	report := HealthReport{Status: "ok", Components: map[string]ComponentStatus{}}
	healthy := true

	if err := s.DB.Ping(ctx); err != nil {
		report.Components["database"] = ComponentStatus{Status: "error", Detail: err.Error()}
		report.Status = "error"
		healthy = false
	} else {
		report.Components["database"] = ComponentStatus{Status: "ok"}
	}

	if s.Breaker != nil {
		for _, agent := range domain.RoutableAgents() {
			st := ComponentStatus{Status: "ok"}
			if s.Breaker.IsOpen(agent) {
				st.Status = "degraded"
				st.Detail = "circuit open"
			}
			report.Components["agent_"+string(agent)] = st
		}
	}

	report.LatencyMS = math.Round(time.Since(start).Seconds()*1000*100) / 100
	return report, healthy
}
