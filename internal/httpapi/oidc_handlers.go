package httpapi

import (
	"net/http"
	"net/url"

	"authgate.dev/internal/audit"
	"authgate.dev/internal/auth"
	"authgate.dev/internal/keys"
	"authgate.dev/internal/obs"
)

func (a *API) handleDiscovery(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	issuer := a.svc.Issuer(requestOrigin(r))
	writeJSON(w, http.StatusOK, map[string]any{
		"issuer":                                issuer,
		"authorization_endpoint":                issuer + "/authorize",
		"token_endpoint":                        issuer + "/token",
		"userinfo_endpoint":                     issuer + "/userinfo",
		"jwks_uri":                              issuer + "/jwks.json",
		"response_types_supported":              []string{"code"},
		"grant_types_supported":                 []string{"authorization_code", "refresh_token"},
		"subject_types_supported":               []string{"public"},
		"id_token_signing_alg_values_supported": []string{"RS256"},
		"code_challenge_methods_supported":      []string{"S256"},
		"scopes_supported":                      []string{"openid", "profile", "email"},
		"token_endpoint_auth_methods_supported": []string{"client_secret_basic", "client_secret_post"},
	})
}

func (a *API) handleJWKS(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	jwk, err := a.keys.PublicJWK()
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "signing key unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"keys": []keys.JWK{jwk},
	})
}

func (a *API) handleAuthorize(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	q := r.URL.Query()
	req := auth.AuthorizeRequest{
		ResponseType:        q.Get("response_type"),
		ClientID:            q.Get("client_id"),
		RedirectURI:         q.Get("redirect_uri"),
		Scope:               q.Get("scope"),
		State:               q.Get("state"),
		Nonce:               q.Get("nonce"),
		CodeChallenge:       q.Get("code_challenge"),
		CodeChallengeMethod: q.Get("code_challenge_method"),
		BearerToken:         bearerToken(r),
		UserAgent:           r.UserAgent(),
		IP:                  clientIP(r),
	}
	code, err := a.svc.Authorize(r.Context(), req)
	if err != nil {
		handleAuthError(w, r, err)
		return
	}
	obs.AuthCodesIssuedTotal.Inc()
	_ = audit.LogEvent(r.Context(), "oauth.code.issued", map[string]any{
		"client_id": req.ClientID,
	})

	redirect, parseErr := url.Parse(req.RedirectURI)
	if parseErr != nil {
		writeError(w, r, http.StatusBadRequest, "invalid redirect_uri")
		return
	}
	params := redirect.Query()
	params.Set("code", code)
	if req.State != "" {
		params.Set("state", req.State)
	}
	redirect.RawQuery = params.Encode()
	http.Redirect(w, r, redirect.String(), http.StatusFound)
}

func (a *API) handleToken(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	if err := r.ParseForm(); err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid form body")
		return
	}
	clientID := r.PostFormValue("client_id")
	clientSecret := r.PostFormValue("client_secret")
	if id, secret, ok := r.BasicAuth(); ok {
		clientID, clientSecret = id, secret
	}

	noStore(w)
	grant := r.PostFormValue("grant_type")
	switch grant {
	case "authorization_code":
		bundle, err := a.svc.Exchange(r.Context(), auth.ExchangeRequest{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			Code:         r.PostFormValue("code"),
			RedirectURI:  r.PostFormValue("redirect_uri"),
			CodeVerifier: r.PostFormValue("code_verifier"),
			UserAgent:    r.UserAgent(),
			IP:           clientIP(r),
			Origin:       requestOrigin(r),
		})
		if err != nil {
			handleAuthError(w, r, err)
			return
		}
		obs.TokensIssuedTotal.WithLabelValues("authorization_code").Inc()
		_ = audit.LogEvent(r.Context(), "oauth.token.exchanged", map[string]any{
			"client_id": clientID,
		})
		writeJSON(w, http.StatusOK, bundle)
	case "refresh_token":
		bundle, err := a.svc.Refresh(r.Context(), auth.RefreshRequest{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			RefreshToken: r.PostFormValue("refresh_token"),
			Origin:       requestOrigin(r),
		})
		if err != nil {
			handleAuthError(w, r, err)
			return
		}
		obs.TokensIssuedTotal.WithLabelValues("refresh_token").Inc()
		writeJSON(w, http.StatusOK, bundle)
	default:
		writeError(w, r, http.StatusBadRequest, "unsupported grant_type")
	}
}

func (a *API) handleUserInfo(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodGet, http.MethodPost)
		return
	}
	token := bearerToken(r)
	if token == "" {
		w.Header().Set("WWW-Authenticate", "Bearer")
		writeError(w, r, http.StatusUnauthorized, "bearer token required")
		return
	}
	info, err := a.svc.ResolveUserInfo(r.Context(), token)
	if err != nil {
		handleAuthError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, info)
}
