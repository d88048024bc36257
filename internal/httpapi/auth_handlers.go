package httpapi

import (
	"net/http"

	"authgate.dev/internal/audit"
	"authgate.dev/internal/auth"
	"authgate.dev/internal/obs"
)

type registerRequest struct {
	TenantID   string `json:"tenant_id"`
	TenantName string `json:"tenant_name"`
	Email      string `json:"email"`
	Password   string `json:"password"`
	Locale     string `json:"locale"`
}

type loginRequest struct {
	TenantID string `json:"tenant_id"`
	ClientID string `json:"client_id"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (a *API) handleRegister(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req registerRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	res, err := a.svc.Register(r.Context(), auth.RegisterRequest{
		TenantID:   req.TenantID,
		TenantName: req.TenantName,
		Email:      req.Email,
		Password:   req.Password,
		Locale:     req.Locale,
	})
	if err != nil {
		handleAuthError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "user.registered", map[string]any{
		"user_id":   res.UserID,
		"tenant_id": res.TenantID,
	})
	writeJSON(w, http.StatusCreated, res)
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req loginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	bundle, user, err := a.svc.Login(r.Context(), auth.LoginRequest{
		TenantID:  req.TenantID,
		ClientID:  req.ClientID,
		Email:     req.Email,
		Password:  req.Password,
		UserAgent: r.UserAgent(),
		IP:        clientIP(r),
		Origin:    requestOrigin(r),
	})
	if err != nil {
		obs.LoginsTotal.WithLabelValues("failure").Inc()
		handleAuthError(w, r, err)
		return
	}
	obs.LoginsTotal.WithLabelValues("success").Inc()
	obs.TokensIssuedTotal.WithLabelValues("password").Inc()
	_ = audit.LogEvent(auth.ContextWithUser(r.Context(), user.ID), "login.success", map[string]any{
		"tenant_id": user.TenantID,
		"client_id": req.ClientID,
	})

	noStore(w)
	setRefreshCookie(w, bundle.RefreshToken, bundle.RefreshExpiresAt)
	writeJSON(w, http.StatusOK, bundle)
}

// refreshTokenFrom prefers the session cookie and falls back to a JSON body.
func refreshTokenFrom(w http.ResponseWriter, r *http.Request) string {
	if cookie, err := r.Cookie(refreshCookieName); err == nil && cookie.Value != "" {
		return cookie.Value
	}
	var body struct {
		RefreshToken string `json:"refresh_token"`
	}
	if err := decodeJSON(w, r, &body); err != nil {
		return ""
	}
	return body.RefreshToken
}

func (a *API) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	refreshToken := refreshTokenFrom(w, r)
	if refreshToken == "" {
		writeError(w, r, http.StatusUnauthorized, "refresh token required")
		return
	}
	bundle, err := a.svc.RefreshSession(r.Context(), refreshToken, requestOrigin(r))
	if err != nil {
		clearRefreshCookie(w)
		handleAuthError(w, r, err)
		return
	}
	obs.TokensIssuedTotal.WithLabelValues("refresh_token").Inc()

	noStore(w)
	setRefreshCookie(w, bundle.RefreshToken, bundle.RefreshExpiresAt)
	writeJSON(w, http.StatusOK, bundle)
}

func (a *API) handleLogout(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	if refreshToken := refreshTokenFrom(w, r); refreshToken != "" {
		if err := a.svc.Logout(r.Context(), refreshToken); err != nil {
			handleAuthError(w, r, err)
			return
		}
		obs.SessionsRevokedTotal.Inc()
		_ = audit.LogEvent(r.Context(), "session.revoked", nil)
	}
	clearRefreshCookie(w)
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}
