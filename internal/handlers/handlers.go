// Package handlers implements the admin API endpoints.
package handlers

import (
	"net/http"

	"github.com/telhawk-systems/detect/internal/compiler"
	"github.com/telhawk-systems/detect/internal/httputil"
	"github.com/telhawk-systems/detect/internal/logging"
	"github.com/telhawk-systems/detect/pkg/model"
)

// DetectionEngine is the engine surface the admin API drives.
type DetectionEngine interface {
	LoadRules(defs []model.RuleDefinition) (int, []*compiler.CompileError)
	ActiveRuleCount() int
	ActiveVersion() int
	ResetState()
}

// RuleSource loads rule definitions for a reload request.
type RuleSource interface {
	Load() ([]model.RuleDefinition, error)
}

type Handler struct {
	engine DetectionEngine
	rules  RuleSource
	logger *logging.Logger
}

func NewHandler(engine DetectionEngine, rules RuleSource, logger *logging.Logger) *Handler {
	return &Handler{
		engine: engine,
		rules:  rules,
		logger: logger.WithComponent("handlers"),
	}
}

// HealthCheck handles GET /healthz.
func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

// GetRules handles GET /api/v1/rules.
func (h *Handler) GetRules(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"count":   h.engine.ActiveRuleCount(),
		"version": h.engine.ActiveVersion(),
	})
}

// ReloadRules handles POST /api/v1/rules/reload. The reload is
// all-or-nothing: any invalid rule leaves the active set unchanged and
// the per-rule errors are returned.
func (h *Handler) ReloadRules(w http.ResponseWriter, r *http.Request) {
	defs, err := h.rules.Load()
	if err != nil {
		h.logger.Error("rule reload failed", "error", err)
		httputil.WriteError(w, http.StatusInternalServerError, "failed to load rule definitions")
		return
	}

	version, errs := h.engine.LoadRules(defs)
	if len(errs) > 0 {
		details := make([]map[string]string, 0, len(errs))
		for _, e := range errs {
			details = append(details, map[string]string{
				"rule_id": e.RuleID,
				"kind":    string(e.Kind),
				"error":   e.Error(),
			})
		}
		h.logger.Warn("rule reload rejected", "errors", len(errs), "version", version)
		httputil.WriteJSON(w, http.StatusUnprocessableEntity, map[string]interface{}{
			"loaded":  false,
			"version": version,
			"errors":  details,
		})
		return
	}

	h.logger.Info("rules reloaded", "count", len(defs), "version", version)
	httputil.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"loaded":  true,
		"count":   len(defs),
		"version": version,
	})
}

// ResetState handles POST /api/v1/state/reset.
func (h *Handler) ResetState(w http.ResponseWriter, r *http.Request) {
	h.engine.ResetState()
	h.logger.Info("evaluation state reset")
	httputil.WriteJSON(w, http.StatusOK, map[string]string{"status": "reset"})
}
