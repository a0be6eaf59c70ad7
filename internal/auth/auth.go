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

	"agentcanvas/backend/internal/config"
	"agentcanvas/backend/internal/services"
	"agentcanvas/backend/pkg/models"
)

// DevIdentity is the subject every request runs as when auth is bypassed.
var DevIdentity = services.Identity{Subject: "dev-user", Email: "dev@localhost", Name: "Developer"}

var errNoCredentials = errors.New("no credentials")

// Logger defines the logging interface compatible with the application logger.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Error(msg string, args ...any)
}

// UserSyncer provisions a user record for a verified identity.
type UserSyncer interface {
	Sync(ctx context.Context, id services.Identity) (*models.User, error)
}

type userKey struct{}

// WithUser returns a copy of ctx carrying user.
func WithUser(ctx context.Context, user *models.User) context.Context {
	return context.WithValue(ctx, userKey{}, user)
}

// UserFromContext returns the user attached by RequireAuth or Identify.
func UserFromContext(ctx context.Context) (*models.User, bool) {
	user, ok := ctx.Value(userKey{}).(*models.User)
	return user, ok && user != nil
}

// Auth contains configuration and helpers for performing OpenID Connect
// authentication with an Okta tenant.
type Auth struct {
	oauth2Config *oauth2.Config
	verifier     *oidc.IDTokenVerifier
	apiVerifier  *oidc.IDTokenVerifier
	users        UserSyncer
	logger       Logger
	devMode      bool
	authBypass   bool
}

// New creates a new Auth object using values from the application
// configuration. Outside of bypass mode it connects to the provider and
// prepares the token verifiers.
func New(ctx context.Context, cfg *config.Config, users UserSyncer, logger Logger) (*Auth, error) {
	isDev := cfg.IsDev()
	shouldBypass := isDev && cfg.DevModeBypass

	var oauth2Config *oauth2.Config
	var verifier *oidc.IDTokenVerifier
	var apiVerifier *oidc.IDTokenVerifier

	if !shouldBypass {
		if cfg.Auth.OktaDomain == "" || cfg.Auth.ClientID == "" ||
			cfg.Auth.ClientSecret == "" || cfg.Auth.RedirectURL == "" {
			return nil, errors.New("auth configuration is incomplete")
		}

		provider, err := oidc.NewProvider(ctx, cfg.Auth.OktaDomain)
		if err != nil {
			return nil, err
		}

		oauth2Config = &oauth2.Config{
			ClientID:     cfg.Auth.ClientID,
			ClientSecret: cfg.Auth.ClientSecret,
			Endpoint:     provider.Endpoint(),
			RedirectURL:  cfg.Auth.RedirectURL,
			Scopes:       LoginScopes,
		}

		verifier = provider.Verifier(&oidc.Config{ClientID: cfg.Auth.ClientID})

		// Access tokens carry the authorization server audience, not the client id.
		apiVerifier = provider.Verifier(&oidc.Config{SkipClientIDCheck: true})
	}

	return &Auth{
		oauth2Config: oauth2Config,
		verifier:     verifier,
		apiVerifier:  apiVerifier,
		users:        users,
		logger:       logger,
		devMode:      isDev,
		authBypass:   shouldBypass,
	}, nil
}

// Bypassed reports whether every request runs as DevIdentity.
func (a *Auth) Bypassed() bool {
	return a.authBypass
}

// LoginHandler initiates the OAuth2 authorization code flow by redirecting the
// user to the Okta authorization endpoint. A random state value is stored in a
// cookie to mitigate CSRF attacks.
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
		Path:     "/",
		Secure:   !a.devMode,
		SameSite: http.SameSiteLaxMode,
	})

	http.Redirect(w, r, a.oauth2Config.AuthCodeURL(state), http.StatusTemporaryRedirect)
}

// CallbackHandler handles the redirect back from Okta. It verifies the state
// parameter, exchanges the code for tokens, validates the ID token, provisions
// the user and sets a session cookie containing the raw ID token.
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
		http.Error(w, "token exchange failed", http.StatusInternalServerError)
		return
	}

	rawIDToken, ok := token.Extra("id_token").(string)
	if !ok {
		http.Error(w, "no id_token in token response", http.StatusInternalServerError)
		return
	}

	idToken, err := a.verifier.Verify(r.Context(), rawIDToken)
	if err != nil {
		http.Error(w, "failed to verify id token", http.StatusUnauthorized)
		return
	}

	identity, err := identityFromToken(idToken)
	if err != nil {
		http.Error(w, err.Error(), http.StatusUnauthorized)
		return
	}
	if _, err := a.users.Sync(r.Context(), identity); err != nil {
		a.logger.Error("failed to sync user", "subject", identity.Subject, "error", err.Error())
		http.Error(w, "failed to provision user", http.StatusInternalServerError)
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     "id_token",
		Value:    rawIDToken,
		HttpOnly: true,
		Path:     "/",
		Secure:   !a.devMode,
		SameSite: http.SameSiteLaxMode,
	})

	http.Redirect(w, r, "/", http.StatusSeeOther)
}

// RequireAuth is middleware that rejects requests without a valid bearer
// token or session cookie. The synced user is attached to the request context.
func (a *Auth) RequireAuth(next http.Handler) http.Handler {
	return a.middleware(next, true)
}

// Identify is like RequireAuth but lets requests without credentials through
// anonymously. Invalid credentials are still rejected.
func (a *Auth) Identify(next http.Handler) http.Handler {
	return a.middleware(next, false)
}

func (a *Auth) middleware(next http.Handler, required bool) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		identity, err := a.authenticate(r)
		if errors.Is(err, errNoCredentials) && !required {
			next.ServeHTTP(w, r)
			return
		}
		if err != nil {
			if a.logger != nil {
				a.logger.Debug("authentication failed", "path", r.URL.Path, "error", err.Error())
			}
			w.Header().Set("WWW-Authenticate", "Bearer")
			http.Error(w, "unauthorized: "+err.Error(), http.StatusUnauthorized)
			return
		}

		user, err := a.users.Sync(r.Context(), identity)
		if err != nil {
			if a.logger != nil {
				a.logger.Error("failed to sync user", "subject", identity.Subject, "error", err.Error())
			}
			http.Error(w, "failed to provision user", http.StatusInternalServerError)
			return
		}

		next.ServeHTTP(w, r.WithContext(WithUser(r.Context(), user)))
	})
}

// authenticate resolves the caller from the Authorization header first, then
// the session cookie.
func (a *Auth) authenticate(r *http.Request) (services.Identity, error) {
	if a.authBypass {
		return DevIdentity, nil
	}

	var token *oidc.IDToken
	var err error
	if authHeader := r.Header.Get("Authorization"); strings.HasPrefix(authHeader, "Bearer ") {
		if a.apiVerifier == nil {
			return services.Identity{}, errors.New("bearer tokens are not accepted")
		}
		token, err = a.apiVerifier.Verify(r.Context(), strings.TrimPrefix(authHeader, "Bearer "))
	} else {
		cookie, cookieErr := r.Cookie("id_token")
		if cookieErr != nil {
			return services.Identity{}, errNoCredentials
		}
		if a.verifier == nil {
			return services.Identity{}, errors.New("session cookies are not accepted")
		}
		token, err = a.verifier.Verify(r.Context(), cookie.Value)
	}
	if err != nil {
		return services.Identity{}, err
	}
	return identityFromToken(token)
}

func identityFromToken(token *oidc.IDToken) (services.Identity, error) {
	var claims struct {
		Email string `json:"email"`
		Name  string `json:"name"`
	}
	if err := token.Claims(&claims); err != nil {
		return services.Identity{}, errors.New("failed to parse token claims")
	}
	if token.Subject == "" {
		return services.Identity{}, errors.New("token has no subject")
	}
	return services.Identity{Subject: token.Subject, Email: claims.Email, Name: claims.Name}, nil
}

// LogoutHandler clears the session cookie and redirects to the home page.
func (a *Auth) LogoutHandler(w http.ResponseWriter, r *http.Request) {
	http.SetCookie(w, &http.Cookie{
		Name:   "id_token",
		Value:  "",
		Path:   "/",
		MaxAge: -1,
	})
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

func generateState() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.URLEncoding.EncodeToString(b), nil
}
