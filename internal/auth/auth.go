// Package auth authenticates publisher staff against the tenant's identity
// provider and resolves their tenant from the email domain.
package auth

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"net/http"
	"strings"

	"github.com/coreos/go-oidc"
	"golang.org/x/oauth2"

	"adcp-sales-agent/internal/config"
	"adcp-sales-agent/internal/logging"
	"adcp-sales-agent/pkg/models"
)

// DevEmail is the identity assumed when DEV auth bypass is on.
const DevEmail = "dev@localhost"

// TenantDirectory finds the tenant that owns an email domain.
type TenantDirectory interface {
	GetTenantByDomain(ctx context.Context, domain string) (*models.Tenant, error)
}

type contextKey int

const (
	tenantIDKey contextKey = iota
	staffEmailKey
)

// WithStaff returns a context carrying the authenticated staff member.
func WithStaff(ctx context.Context, tenantID, email string) context.Context {
	ctx = context.WithValue(ctx, tenantIDKey, tenantID)
	return context.WithValue(ctx, staffEmailKey, email)
}

// TenantID returns the tenant of the authenticated staff member.
func TenantID(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(tenantIDKey).(string)
	return id, ok && id != ""
}

// StaffEmail returns the email of the authenticated staff member.
func StaffEmail(ctx context.Context) string {
	email, _ := ctx.Value(staffEmailKey).(string)
	return email
}

// Auth performs OpenID Connect authentication of publisher staff.
type Auth struct {
	oauth2Config *oauth2.Config
	verifier     *oidc.IDTokenVerifier
	apiVerifier  *oidc.IDTokenVerifier
	tenants      TenantDirectory
	logger       *logging.Logger
	authBypass   bool
}

// New connects to the configured issuer and prepares token verifiers. In DEV
// with dev_mode_bypass set no issuer is contacted.
func New(ctx context.Context, cfg *config.Config, tenants TenantDirectory, logger *logging.Logger) (*Auth, error) {
	a := &Auth{
		tenants:    tenants,
		logger:     logger.With("module", "auth"),
		authBypass: cfg.IsDev() && cfg.DevModeBypass,
	}
	if a.authBypass {
		a.logger.Warn("auth bypass enabled, all requests act as " + DevEmail)
		return a, nil
	}

	if cfg.Auth.OktaDomain == "" || cfg.Auth.ClientID == "" ||
		cfg.Auth.ClientSecret == "" || cfg.Auth.RedirectURL == "" {
		return nil, errors.New("auth configuration is incomplete")
	}

	provider, err := oidc.NewProvider(ctx, cfg.Auth.OktaDomain)
	if err != nil {
		return nil, err
	}
	a.oauth2Config = &oauth2.Config{
		ClientID:     cfg.Auth.ClientID,
		ClientSecret: cfg.Auth.ClientSecret,
		Endpoint:     provider.Endpoint(),
		RedirectURL:  cfg.Auth.RedirectURL,
		Scopes:       []string{ScopeOpenID, ScopeEmail},
	}
	a.verifier = provider.Verifier(&oidc.Config{ClientID: cfg.Auth.ClientID})
	// access tokens carry the API audience, not the client id
	a.apiVerifier = provider.Verifier(&oidc.Config{SkipClientIDCheck: true})
	return a, nil
}

// LoginHandler starts the authorization code flow. The state value is kept in
// a cookie and checked on callback.
func (a *Auth) LoginHandler(w http.ResponseWriter, r *http.Request) {
	if a.authBypass {
		http.Redirect(w, r, "/", http.StatusSeeOther)
		return
	}

	state, err := generateState()
	if err != nil {
		http.Error(w, "failed to generate state", http.StatusInternalServerError)
		return
	}
	http.SetCookie(w, &http.Cookie{
		Name:     "oauthstate",
		Value:    state,
		HttpOnly: true,
		Secure:   r.TLS != nil,
		SameSite: http.SameSiteLaxMode,
		Path:     "/",
	})
	http.Redirect(w, r, a.oauth2Config.AuthCodeURL(state), http.StatusTemporaryRedirect)
}

// CallbackHandler exchanges the authorization code and stores the verified ID
// token in a session cookie.
func (a *Auth) CallbackHandler(w http.ResponseWriter, r *http.Request) {
	if a.authBypass {
		http.Redirect(w, r, "/", http.StatusSeeOther)
		return
	}

	cookie, err := r.Cookie("oauthstate")
	if err != nil || r.URL.Query().Get("state") != cookie.Value {
		http.Error(w, "invalid state", http.StatusBadRequest)
		return
	}

	token, err := a.oauth2Config.Exchange(r.Context(), r.URL.Query().Get("code"))
	if err != nil {
		a.logger.Warn("token exchange failed", "error", err)
		http.Error(w, "token exchange failed", http.StatusInternalServerError)
		return
	}
	rawIDToken, ok := token.Extra("id_token").(string)
	if !ok {
		http.Error(w, "no id_token in token response", http.StatusInternalServerError)
		return
	}
	if _, err := a.verifier.Verify(r.Context(), rawIDToken); err != nil {
		http.Error(w, "failed to verify id token", http.StatusUnauthorized)
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     "id_token",
		Value:    rawIDToken,
		HttpOnly: true,
		Secure:   r.TLS != nil,
		SameSite: http.SameSiteLaxMode,
		Path:     "/",
	})
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

// RequireAuth admits requests carrying a valid bearer token or session cookie
// whose email domain belongs to a known tenant.
func (a *Auth) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		email := DevEmail
		if !a.authBypass {
			var err error
			email, err = a.authenticate(r)
			if err != nil {
				writeUnauthorized(w, err.Error())
				return
			}
		}

		_, domain, ok := strings.Cut(email, "@")
		if !ok || domain == "" {
			writeUnauthorized(w, "invalid email format in token")
			return
		}

		tenant, err := a.tenants.GetTenantByDomain(r.Context(), strings.ToLower(domain))
		if err != nil {
			a.logger.Warn("no tenant for staff domain", "domain", domain, "error", err)
			http.Error(w, "no publisher account for "+domain, http.StatusForbidden)
			return
		}

		next.ServeHTTP(w, r.WithContext(WithStaff(r.Context(), tenant.TenantID, email)))
	})
}

func (a *Auth) authenticate(r *http.Request) (string, error) {
	var (
		token *oidc.IDToken
		err   error
	)
	if header := r.Header.Get("Authorization"); strings.HasPrefix(header, "Bearer ") {
		token, err = a.apiVerifier.Verify(r.Context(), strings.TrimPrefix(header, "Bearer "))
	} else {
		cookie, cookieErr := r.Cookie("id_token")
		if cookieErr != nil {
			return "", errors.New("missing credentials")
		}
		token, err = a.verifier.Verify(r.Context(), cookie.Value)
	}
	if err != nil {
		return "", errors.New("invalid token: " + err.Error())
	}

	var claims struct {
		Email string `json:"email"`
	}
	if err := token.Claims(&claims); err != nil {
		return "", errors.New("failed to parse token claims")
	}
	return claims.Email, nil
}

// LogoutHandler clears the session cookie.
func (a *Auth) LogoutHandler(w http.ResponseWriter, r *http.Request) {
	http.SetCookie(w, &http.Cookie{
		Name:   "id_token",
		Value:  "",
		Path:   "/",
		MaxAge: -1,
	})
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

func writeUnauthorized(w http.ResponseWriter, detail string) {
	w.Header().Set("WWW-Authenticate", `Bearer realm="adcp-sales-agent"`)
	http.Error(w, detail, http.StatusUnauthorized)
}

func generateState() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.URLEncoding.EncodeToString(b), nil
}
