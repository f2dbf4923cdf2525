package http

import (
	"context"
	"net/http"

	"github.com/Strob0t/reactor/internal/config"
	"github.com/Strob0t/reactor/internal/domain/agent"
	"github.com/Strob0t/reactor/internal/service"
)

// HealthCheck reports whether one dependency is usable.
type HealthCheck func(ctx context.Context) error

// Handlers holds the HTTP handler dependencies.
type Handlers struct {
	Agents    *service.AgentService
	Endpoints config.Endpoints
	Checks    map[string]HealthCheck // dependency name -> probe
}

// ListAgents handles GET /api/v1/agents
func (h *Handlers) ListAgents(w http.ResponseWriter, r *http.Request) {
	p, ok := requirePrincipal(w, r)
	if !ok {
		return
	}

	enabled, err := queryBool(r, "enabled")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	limit, err := queryInt(r, "limit")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	offset, err := queryInt(r, "offset")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	q := r.URL.Query()
	filter := agent.Filter{
		Name:      q.Get("name"),
		ExecuteAs: q.Get("execute_as"),
		Enabled:   enabled,
	}
	opts := agent.ListOptions{
		Limit:      limit,
		Offset:     offset,
		Sort:       q.Get("sort"),
		Descending: q.Get("order") == "desc",
	}

	agents, err := h.Agents.Find(r.Context(), p, filter, opts)
	if err != nil {
		writeDomainError(w, err, "agents not found")
		return
	}
	if agents == nil {
		agents = []agent.Agent{}
	}
	writeJSON(w, http.StatusOK, agents)
}

// GetAgent handles GET /api/v1/agents/{id}
func (h *Handlers) GetAgent(w http.ResponseWriter, r *http.Request) {
	handleGet(h.Agents.FindByID, "agent not found")(w, r)
}

// CreateAgent handles POST /api/v1/agents
func (h *Handlers) CreateAgent(w http.ResponseWriter, r *http.Request) {
	handleCreate(maxRequestBodySize, h.Agents.Create)(w, r)
}

// UpdateAgent handles PATCH /api/v1/agents/{id}
func (h *Handlers) UpdateAgent(w http.ResponseWriter, r *http.Request) {
	handleUpdate(maxRequestBodySize, h.Agents.Update, "agent not found")(w, r)
}

// headwaiterResponse lists the endpoints a client talks to.
type headwaiterResponse struct {
	Endpoints map[string]string `json:"endpoints"`
}

// Headwaiter handles GET /api/v1/headwaiter
func (h *Handlers) Headwaiter(w http.ResponseWriter, _ *http.Request) {
	endpoints := map[string]string{
		"agents":      h.Endpoints.Agents,
		"messages":    h.Endpoints.Messages,
		"permissions": h.Endpoints.Permissions,
		"principals":  h.Endpoints.Principals,
	}
	if h.Endpoints.BlobProvider != "" {
		endpoints["blobs"] = h.Endpoints.Blobs
	}
	writeJSON(w, http.StatusOK, headwaiterResponse{Endpoints: endpoints})
}

type healthStatus struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

// Health handles GET /health
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	status := healthStatus{Status: "ok", Checks: make(map[string]string, len(h.Checks))}
	code := http.StatusOK
	for name, check := range h.Checks {
		if err := check(r.Context()); err != nil {
			status.Status = "degraded"
			status.Checks[name] = err.Error()
			code = http.StatusServiceUnavailable
			continue
		}
		status.Checks[name] = "ok"
	}
	writeJSON(w, code, status)
}
