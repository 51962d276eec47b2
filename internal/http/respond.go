package httpx

import (
	"encoding/json"
	"net/http"

	"github.com/AbhishekMashetty/axon/internal/manifest"
)

// writeJSON writes JSON response with status code.
func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

// writeError sends an error message.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeValidationError reports every manifest issue so callers can fix them in one pass.
func writeValidationError(w http.ResponseWriter, verr *manifest.ValidationError) {
	issues := verr.Issues
	if issues == nil {
		issues = []manifest.Issue{}
	}
	writeJSON(w, http.StatusUnprocessableEntity, map[string]any{
		"valid":  false,
		"error":  verr.Error(),
		"issues": issues,
	})
}
