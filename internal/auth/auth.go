// Package auth signs operators in with Google OAuth and gates the
// operator-only endpoints behind a superuser allowlist.
package auth

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"

	"github.com/socivy/rebel/internal/config"
	"github.com/socivy/rebel/internal/pkg/httputil"
	"github.com/socivy/rebel/internal/pkg/logger"
)

const (
	stateCookie     = "oauth_state"
	googleUserInfo  = "https://www.googleapis.com/oauth2/v2/userinfo"
	defaultAfterURL = "/"
)

// GoogleUserInfo is the subset of Google's userinfo response we use.
type GoogleUserInfo struct {
	Email         string `json:"email"`
	VerifiedEmail bool   `json:"verified_email"`
	Name          string `json:"name"`
}

// Manager handles Google OAuth login and superuser sessions.
type Manager struct {
	cfg          config.AuthConfig
	oauth2Config *oauth2.Config
	userInfoURL  string
	sessions     SessionStore
	superusers   map[string]bool
	now          func() time.Time
}

// NewManager creates a Manager. Only addresses in cfg.Superusers can sign in.
func NewManager(cfg config.AuthConfig, sessions SessionStore) *Manager {
	superusers := make(map[string]bool, len(cfg.Superusers))
	for _, email := range cfg.Superusers {
		superusers[strings.ToLower(strings.TrimSpace(email))] = true
	}
	if sessions == nil {
		sessions = NewMemoryStore()
	}
	return &Manager{
		cfg: cfg,
		oauth2Config: &oauth2.Config{
			ClientID:     cfg.GoogleClientID,
			ClientSecret: cfg.GoogleClientSecret,
			RedirectURL:  strings.TrimRight(cfg.BaseURL, "/") + "/auth/callback",
			Scopes: []string{
				"https://www.googleapis.com/auth/userinfo.email",
				"https://www.googleapis.com/auth/userinfo.profile",
			},
			Endpoint: google.Endpoint,
		},
		userInfoURL: googleUserInfo,
		sessions:    sessions,
		superusers:  superusers,
		now:         time.Now,
	}
}

func randomToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.URLEncoding.EncodeToString(b), nil
}

// HandleLogin initiates the Google OAuth flow
func (m *Manager) HandleLogin(w http.ResponseWriter, r *http.Request) {
	state, err := randomToken()
	if err != nil {
		httputil.InternalError(w, fmt.Errorf("generate oauth state: %w", err))
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     stateCookie,
		Value:    state,
		Path:     "/",
		MaxAge:   300,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	http.Redirect(w, r, m.oauth2Config.AuthCodeURL(state, oauth2.AccessTypeOnline), http.StatusTemporaryRedirect)
}

// HandleCallback processes the OAuth callback from Google
func (m *Manager) HandleCallback(w http.ResponseWriter, r *http.Request) {
	fail := func(reason string) {
		http.Redirect(w, r, defaultAfterURL+"?error="+reason, http.StatusTemporaryRedirect)
	}

	cookie, err := r.Cookie(stateCookie)
	if err != nil || cookie.Value == "" || r.URL.Query().Get("state") != cookie.Value {
		logger.Warn("auth: oauth state mismatch")
		fail("invalid_state")
		return
	}
	http.SetCookie(w, &http.Cookie{Name: stateCookie, Value: "", Path: "/", MaxAge: -1})

	if errMsg := r.URL.Query().Get("error"); errMsg != "" {
		logger.Warn("auth: google returned error", "error", errMsg)
		fail("oauth_error")
		return
	}

	token, err := m.oauth2Config.Exchange(r.Context(), r.URL.Query().Get("code"))
	if err != nil {
		logger.Warn("auth: code exchange failed", "error", err)
		fail("exchange_failed")
		return
	}

	info, err := m.userInfo(r.Context(), token)
	if err != nil {
		logger.Warn("auth: userinfo failed", "error", err)
		fail("userinfo_failed")
		return
	}
	if !info.VerifiedEmail || !m.superusers[strings.ToLower(info.Email)] {
		logger.Warn("auth: login refused", "email", info.Email)
		fail("not_allowed")
		return
	}

	sessionID, err := randomToken()
	if err != nil {
		httputil.InternalError(w, fmt.Errorf("generate session id: %w", err))
		return
	}
	now := m.now()
	sess := &Session{
		Email:     info.Email,
		Name:      info.Name,
		CreatedAt: now,
		ExpiresAt: now.Add(time.Duration(m.cfg.CookieMaxAge) * time.Second),
	}
	if err := m.sessions.Put(r.Context(), sessionID, sess); err != nil {
		httputil.InternalError(w, err)
		return
	}
	logger.Info("auth: operator logged in", "email", info.Email)

	http.SetCookie(w, &http.Cookie{
		Name:     m.cfg.CookieName,
		Value:    sessionID,
		Path:     "/",
		MaxAge:   m.cfg.CookieMaxAge,
		HttpOnly: true,
		Secure:   strings.HasPrefix(m.cfg.BaseURL, "https://"),
		SameSite: http.SameSiteLaxMode,
	})
	http.Redirect(w, r, defaultAfterURL, http.StatusTemporaryRedirect)
}

// HandleLogout logs out the user
func (m *Manager) HandleLogout(w http.ResponseWriter, r *http.Request) {
	if cookie, err := r.Cookie(m.cfg.CookieName); err == nil {
		if err := m.sessions.Delete(r.Context(), cookie.Value); err != nil {
			logger.Warn("auth: delete session", "error", err)
		}
	}
	http.SetCookie(w, &http.Cookie{Name: m.cfg.CookieName, Value: "", Path: "/", MaxAge: -1})
	http.Redirect(w, r, defaultAfterURL, http.StatusTemporaryRedirect)
}

// Session returns the request's session, or nil when there is none.
func (m *Manager) Session(r *http.Request) *Session {
	cookie, err := r.Cookie(m.cfg.CookieName)
	if err != nil {
		return nil
	}
	sess, err := m.sessions.Get(r.Context(), cookie.Value)
	if err != nil {
		logger.Error("auth: load session", "error", err)
		return nil
	}
	return sess
}

// IsSuperuser reports whether the request carries a session of an address
// that is still on the allowlist.
func (m *Manager) IsSuperuser(r *http.Request) bool {
	sess := m.Session(r)
	return sess != nil && m.superusers[strings.ToLower(sess.Email)]
}

// RequireSuperuser answers 403 unless IsSuperuser.
func (m *Manager) RequireSuperuser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !m.IsSuperuser(r) {
			httputil.Error(w, http.StatusForbidden, "forbidden")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (m *Manager) userInfo(ctx context.Context, token *oauth2.Token) (*GoogleUserInfo, error) {
	resp, err := m.oauth2Config.Client(ctx, token).Get(m.userInfoURL)
	if err != nil {
		return nil, fmt.Errorf("request user info: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read user info: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("google API error: status %d", resp.StatusCode)
	}

	var info GoogleUserInfo
	if err := json.Unmarshal(body, &info); err != nil {
		return nil, fmt.Errorf("parse user info: %w", err)
	}
	return &info, nil
}
