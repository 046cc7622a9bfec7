package httpserver

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/signalmesh/router/internal/config"
	"github.com/signalmesh/router/internal/domain"
	"github.com/signalmesh/router/internal/service/ratelimiter"
	"github.com/signalmesh/router/internal/usecase"
)

const tsFormat = "2006-01-02T15:04:05Z"

// maxRouteBodyBytes caps the /route request body.
const maxRouteBodyBytes = 1 << 20

// metadataFields are the reserved envelope keys of the /route body. Every
// other field belongs to the payload and participates in identity and
// classification.
var metadataFields = []string{"tenant_id", "event_id", "user_id", "payload_version", "type", "ts", "kind"}

// Server aggregates handler dependencies.
type Server struct {
	Cfg     config.Config
	Router  usecase.RouteService
	Logs    usecase.LogsService
	DLQ     usecase.DLQService
	Replay  *usecase.ReplayService
	Health  usecase.HealthService
	Limiter *ratelimiter.Limiter
}

// NewServer constructs an HTTP server with all handlers wired.
func NewServer(cfg config.Config, router usecase.RouteService, logs usecase.LogsService, dlq usecase.DLQService, replay *usecase.ReplayService, health usecase.HealthService, limiter *ratelimiter.Limiter) *Server {
	return &Server{Cfg: cfg, Router: router, Logs: logs, DLQ: dlq, Replay: replay, Health: health, Limiter: limiter}
}

var (
	vldOnce sync.Once
	vld     *validator.Validate
)

func getValidator() *validator.Validate {
	vldOnce.Do(func() { vld = validator.New() })
	return vld
}

// routeBody is the metadata shell of the /route request. The raw body is
// decoded a second time into a map to recover the open payload fields.
type routeBody struct {
	TenantID       string `json:"tenant_id" validate:"required"`
	EventID        string `json:"event_id"`
	UserID         string `json:"user_id"`
	PayloadVersion *int   `json:"payload_version"`
	Type           string `json:"type"`
	TS             string `json:"ts"`
	Kind           string `json:"kind" validate:"omitempty,oneof=assist policy emergency unknown"`
}

// RouteHandler admits, classifies and fans out one message.
func (s *Server) RouteHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRouteBodyBytes)

		var raw map[string]any
		dec := json.NewDecoder(r.Body)
		if err := dec.Decode(&raw); err != nil {
			writeError(w, r, fmt.Errorf("%w: invalid json body", domain.ErrInvalidArgument), nil)
			return
		}
		body, err := shellFromRaw(raw)
		if err != nil {
			writeError(w, r, fmt.Errorf("%w: malformed envelope field", domain.ErrInvalidArgument), nil)
			return
		}

		if !s.Limiter.Allow(body.UserID) {
			LoggerFrom(r).Warn("rate limit exceeded", slog.String("sender_id", senderOrUnknown(body.UserID)))
			writeError(w, r, fmt.Errorf("%w: sender over budget", domain.ErrRateLimited), nil)
			return
		}

		if err := getValidator().Struct(body); err != nil {
			details := validationDetails(err)
			writeError(w, r, fmt.Errorf("%w: validation failed", domain.ErrInvalidArgument), details)
			return
		}
		if body.TS != "" {
			if _, err := time.Parse(tsFormat, body.TS); err != nil {
				writeError(w, r, fmt.Errorf("%w: ts must be ISO-8601 UTC with Z suffix", domain.ErrInvalidArgument), nil)
				return
			}
		}

		payload := make(map[string]any, len(raw))
		for k, v := range raw {
			payload[k] = v
		}
		for _, k := range metadataFields {
			delete(payload, k)
		}

		version := 1
		if body.PayloadVersion != nil {
			version = *body.PayloadVersion
		}

		res, err := s.Router.Route(r.Context(), usecase.RouteRequest{
			TenantID:       body.TenantID,
			EventID:        body.EventID,
			UserID:         body.UserID,
			Type:           body.Type,
			TS:             body.TS,
			Kind:           body.Kind,
			PayloadVersion: version,
			Payload:        payload,
		})
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		writeJSON(w, http.StatusOK, res)
	}
}

// shellFromRaw re-marshals the raw body into the typed envelope so malformed
// metadata fields (wrong JSON types) fail before validation.
func shellFromRaw(raw map[string]any) (routeBody, error) {
	var body routeBody
	b, err := json.Marshal(raw)
	if err != nil {
		return body, err
	}
	if err := json.Unmarshal(b, &body); err != nil {
		return body, err
	}
	return body, nil
}

func validationDetails(err error) map[string]string {
	out := map[string]string{}
	if ve, ok := err.(validator.ValidationErrors); ok {
		for _, fe := range ve {
			out[fe.Field()] = fe.Tag()
		}
	}
	return out
}

func senderOrUnknown(userID string) string {
	if userID == "" {
		return ratelimiter.UnknownSender
	}
	return userID
}

// HealthHandler reports database and downstream agent health.
func (s *Server) HealthHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		report, healthy := s.Health.Check(r.Context())
		status := http.StatusOK
		if !healthy {
			status = http.StatusInternalServerError
		}
		writeJSON(w, status, report)
	}
}

type logRow struct {
	LogID        string         `json:"log_id"`
	TS           string         `json:"ts"`
	SenderID     string         `json:"sender_id"`
	Kind         string         `json:"kind"`
	RoutedAgents []string       `json:"routed_agents"`
	Response     map[string]any `json:"response"`
	Metadata     map[string]any `json:"metadata"`
}

// LogsHandler lists a sender's routing history, newest first.
func (s *Server) LogsHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		limit, err := intParam(q.Get("limit"), 0)
		if err != nil {
			writeError(w, r, fmt.Errorf("%w: limit must be an integer", domain.ErrInvalidArgument), nil)
			return
		}
		offset, err := intParam(q.Get("offset"), 0)
		if err != nil {
			writeError(w, r, fmt.Errorf("%w: offset must be an integer", domain.ErrInvalidArgument), nil)
			return
		}

		recs, err := s.Logs.ListBySender(r.Context(), q.Get("sender_id"), limit, offset)
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		rows := make([]logRow, 0, len(recs))
		for _, rec := range recs {
			rows = append(rows, logRow{
				LogID:        rec.LogID,
				TS:           rec.TS.UTC().Format(tsFormat),
				SenderID:     rec.SenderID,
				Kind:         string(rec.Kind),
				RoutedAgents: rec.RoutedAgents,
				Response:     rec.Response,
				Metadata:     rec.Metadata,
			})
		}
		writeJSON(w, http.StatusOK, rows)
	}
}

// DLQStatusHandler summarizes the dead-letter queue.
func (s *Server) DLQStatusHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		st, err := s.DLQ.Status(r.Context())
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		writeJSON(w, http.StatusOK, st)
	}
}

// ReplayHandler triggers one manual DLQ replay run.
func (s *Server) ReplayHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		limit, err := intParam(q.Get("limit"), 50)
		if err != nil || limit < 1 || limit > 500 {
			writeError(w, r, fmt.Errorf("%w: limit must be between 1 and 500", domain.ErrInvalidArgument), nil)
			return
		}
		dryRun := false
		if v := q.Get("dry_run"); v != "" {
			dryRun, err = strconv.ParseBool(v)
			if err != nil {
				writeError(w, r, fmt.Errorf("%w: dry_run must be a boolean", domain.ErrInvalidArgument), nil)
				return
			}
		}

		LoggerFrom(r).Info("manual dlq replay triggered",
			slog.Int("limit", limit),
			slog.Bool("dry_run", dryRun))

		report, err := s.Replay.RunOnce(r.Context(), usecase.ModeManual, limit, dryRun)
		if err != nil {
			writeError(w, r, err, nil)
			return
		}

		resp := map[string]any{
			"limit":          limit,
			"agents_healthy": report.AgentsHealthy,
			"processed":      report.Processed,
			"succeeded":      report.Succeeded,
			"skipped":        report.Skipped,
			"errored":        report.Errored,
		}
		switch {
		case dryRun:
			resp["status"] = "preview_completed"
			resp["dry_run"] = true
		case !report.AgentsHealthy:
			resp["status"] = "warning"
			resp["message"] = "agents appear unhealthy, proceeded with manual replay"
		default:
			resp["status"] = "completed"
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func intParam(v string, def int) (int, error) {
	if v == "" {
		return def, nil
	}
	return strconv.Atoi(v)
}
