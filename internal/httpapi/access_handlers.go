package httpapi

import (
	"net/http"

	"authgate.dev/internal/audit"
	"authgate.dev/internal/auth"
)

func (a *API) handleAccessRole(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req auth.CreateRoleRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	role, err := a.svc.CreateRole(r.Context(), req)
	if err != nil {
		handleAuthError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "access.role.created", map[string]any{
		"role_id":   role.ID,
		"tenant_id": role.TenantID,
		"name":      role.Name,
	})
	writeJSON(w, http.StatusCreated, map[string]any{
		"id":          role.ID,
		"tenant_id":   role.TenantID,
		"name":        role.Name,
		"description": role.Description,
	})
}

func (a *API) handleAccessPermission(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req auth.EnsurePermissionRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	id, err := a.svc.EnsurePermission(r.Context(), req)
	if err != nil {
		handleAuthError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"id":  id,
		"key": req.Action + ":" + req.Resource,
	})
}

func (a *API) handleAccessAssign(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req auth.AssignRoleRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if err := a.svc.AssignRole(r.Context(), req); err != nil {
		handleAuthError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "access.role.assigned", map[string]any{
		"user_id":   req.UserID,
		"role_id":   req.RoleID,
		"client_id": req.ClientID,
	})
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func (a *API) handleAccessClientRole(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req auth.AssignClientRoleRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if err := a.svc.AssignClientRole(r.Context(), req); err != nil {
		handleAuthError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "access.client_role.assigned", map[string]any{
		"client_id": req.ClientID,
		"role_id":   req.RoleID,
	})
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func (a *API) handleAccessSummary(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	q := r.URL.Query()
	summary, err := a.svc.Summary(r.Context(), q.Get("user_id"), q.Get("client_id"))
	if err != nil {
		handleAuthError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}
