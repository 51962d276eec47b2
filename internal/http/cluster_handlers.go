package httpx

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/AbhishekMashetty/axon/internal/domain"
)

func (r *Router) handleConnectivity(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w)
		return
	}
	if r.pipeline == nil {
		writeError(w, http.StatusServiceUnavailable, "pipeline client not configured")
		return
	}
	// connectivity calls every pillar's webhook
	if !r.charge(w, req, quotaCluster, pillarKey("all", req)) {
		return
	}
	results := r.pipeline.CheckConnectivity(req.Context())
	reachable := 0
	for _, res := range results {
		if res.Reachable {
			reachable++
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"pillars":   results,
		"reachable": reachable,
		"total":     len(results),
	})
}

// handleServiceSubroutes serves /services/{pillar}/{service}/{validation|logs}.
func (r *Router) handleServiceSubroutes(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w)
		return
	}
	parts := strings.Split(strings.Trim(strings.TrimPrefix(req.URL.Path, "/services/"), "/"), "/")
	if len(parts) != 3 || parts[0] == "" || parts[1] == "" {
		r.notFound(w)
		return
	}
	pillar, err := domain.ParsePillar(parts[0])
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if r.cluster == nil {
		writeError(w, http.StatusServiceUnavailable, "cluster access not configured")
		return
	}
	if !r.charge(w, req, quotaCluster, pillarKey(pillar, req)) {
		return
	}
	service := parts[1]
	namespace := strings.TrimSpace(req.URL.Query().Get("namespace"))
	switch parts[2] {
	case "validation":
		result, err := r.cluster.Validate(req.Context(), pillar, service, namespace)
		if err != nil {
			r.logger.Warn("cluster validation failed", "pillar", pillar, "service", service, "error", err)
			writeError(w, http.StatusBadGateway, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, result)
	case "logs":
		tail, _ := strconv.ParseInt(req.URL.Query().Get("tail"), 10, 64)
		logs, err := r.cluster.DeploymentLogs(req.Context(), pillar, service, namespace, tail)
		if err != nil {
			r.logger.Warn("pod logs failed", "pillar", pillar, "service", service, "error", err)
			writeError(w, http.StatusBadGateway, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, logs)
	default:
		r.notFound(w)
	}
}
