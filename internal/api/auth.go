package api

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

const (
	SessionCookieName = "arena_admin"
	SessionDuration   = 24 * time.Hour
)

var ErrBadAdminToken = errors.New("invalid admin token")

type adminSession struct {
	CreatedAt time.Time
	ExpiresAt time.Time
}

// SessionManager authenticates operators who hold the admin token. Admins
// may join external agents and agents with stat modifiers.
type SessionManager struct {
	mu       sync.RWMutex
	sessions map[string]*adminSession

	// secretKey signs session cookies and is regenerated on every start.
	secretKey  []byte
	adminToken []byte
	logger     *zap.Logger

	done     chan struct{}
	stopOnce sync.Once
}

// NewSessionManager starts a session store for adminToken. Call Stop to end
// its expiry sweeper.
func NewSessionManager(adminToken string, logger *zap.Logger) (*SessionManager, error) {
	if adminToken == "" {
		return nil, errors.New("admin token is empty")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	secretKey := make([]byte, 32)
	if _, err := rand.Read(secretKey); err != nil {
		return nil, fmt.Errorf("generate session key: %w", err)
	}
	sm := &SessionManager{
		sessions:   make(map[string]*adminSession),
		secretKey:  secretKey,
		adminToken: []byte(adminToken),
		logger:     logger,
		done:       make(chan struct{}),
	}
	go sm.cleanupExpiredSessions()
	return sm, nil
}

func (sm *SessionManager) Stop() {
	sm.stopOnce.Do(func() { close(sm.done) })
}

func (sm *SessionManager) tokenMatches(token string) bool {
	return subtle.ConstantTimeCompare([]byte(token), sm.adminToken) == 1
}

// Login opens a session for the holder of the admin token.
func (sm *SessionManager) Login(token string) (string, error) {
	if !sm.tokenMatches(token) {
		return "", ErrBadAdminToken
	}
	sessionID, err := generateSessionID()
	if err != nil {
		return "", err
	}
	now := time.Now()
	sm.mu.Lock()
	sm.sessions[sessionID] = &adminSession{CreatedAt: now, ExpiresAt: now.Add(SessionDuration)}
	sm.mu.Unlock()

	sm.logger.Info("admin session created")
	return sessionID, nil
}

func (sm *SessionManager) session(sessionID string) *adminSession {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	s, ok := sm.sessions[sessionID]
	if !ok || time.Now().After(s.ExpiresAt) {
		return nil
	}
	return s
}

func (sm *SessionManager) deleteSession(sessionID string) {
	sm.mu.Lock()
	delete(sm.sessions, sessionID)
	sm.mu.Unlock()
}

// validate returns the session behind r's cookie, if any.
func (sm *SessionManager) validate(r *http.Request) *adminSession {
	cookie, err := r.Cookie(SessionCookieName)
	if err != nil {
		return nil
	}
	sessionID, err := sm.decodeCookie(cookie.Value)
	if err != nil {
		return nil
	}
	return sm.session(sessionID)
}

// IsAdmin reports whether r carries a valid session cookie or the admin
// token as a bearer credential. A nil manager admits nobody.
func (sm *SessionManager) IsAdmin(r *http.Request) bool {
	if sm == nil {
		return false
	}
	if token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer "); ok {
		return sm.tokenMatches(token)
	}
	return sm.validate(r) != nil
}

func (sm *SessionManager) setSessionCookie(w http.ResponseWriter, r *http.Request, sessionID string) {
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookieName,
		Value:    sm.encodeCookie(sessionID),
		Path:     "/",
		MaxAge:   int(SessionDuration.Seconds()),
		HttpOnly: true,
		Secure:   r.TLS != nil,
		SameSite: http.SameSiteStrictMode,
	})
}

func clearSessionCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookieName,
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		SameSite: http.SameSiteStrictMode,
	})
}

func (sm *SessionManager) sign(sessionID string) string {
	mac := hmac.New(sha256.New, sm.secretKey)
	mac.Write([]byte(sessionID))
	return hex.EncodeToString(mac.Sum(nil))
}

// encodeCookie returns base64("<sessionID>.<hex hmac>").
func (sm *SessionManager) encodeCookie(sessionID string) string {
	return base64.URLEncoding.EncodeToString([]byte(sessionID + "." + sm.sign(sessionID)))
}

func (sm *SessionManager) decodeCookie(value string) (string, error) {
	decoded, err := base64.URLEncoding.DecodeString(value)
	if err != nil {
		return "", errors.New("invalid cookie encoding")
	}
	sessionID, sig, ok := strings.Cut(string(decoded), ".")
	if !ok {
		return "", errors.New("invalid cookie format")
	}
	if !hmac.Equal([]byte(sig), []byte(sm.sign(sessionID))) {
		return "", errors.New("invalid cookie signature")
	}
	return sessionID, nil
}

func (sm *SessionManager) cleanupExpiredSessions() {
	ticker := time.NewTicker(10 * time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-sm.done:
			return
		case now := <-ticker.C:
			sm.mu.Lock()
			for id, s := range sm.sessions {
				if now.After(s.ExpiresAt) {
					delete(sm.sessions, id)
				}
			}
			sm.mu.Unlock()
		}
	}
}

func generateSessionID() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate session id: %w", err)
	}
	return hex.EncodeToString(b), nil
}

// AuthStatus is the body of GET /api/auth/status.
type AuthStatus struct {
	Authenticated bool  `json:"authenticated"`
	ExpiresAt     int64 `json:"expiresAt,omitempty"`
}

// HandleLogin exchanges {"token": ...} for a session cookie.
func (sm *SessionManager) HandleLogin(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		writeError(w, "Invalid request", http.StatusBadRequest)
		return
	}
	sessionID, err := sm.Login(req.Token)
	if errors.Is(err, ErrBadAdminToken) {
		sm.logger.Warn("admin login rejected", zap.String("ip", remoteIP(r)))
		writeError(w, err.Error(), http.StatusUnauthorized)
		return
	}
	if err != nil {
		sm.logger.Error("admin login failed", zap.Error(err))
		writeError(w, "login failed", http.StatusInternalServerError)
		return
	}
	sm.setSessionCookie(w, r, sessionID)
	writeJSON(w, AuthStatus{Authenticated: true, ExpiresAt: sm.session(sessionID).ExpiresAt.Unix()})
}

func (sm *SessionManager) HandleAuthStatus(w http.ResponseWriter, r *http.Request) {
	status := AuthStatus{}
	if s := sm.validate(r); s != nil {
		status.Authenticated = true
		status.ExpiresAt = s.ExpiresAt.Unix()
	}
	writeJSON(w, status)
}

// HandleLogout ends the caller's session and clears its cookie.
func (sm *SessionManager) HandleLogout(w http.ResponseWriter, r *http.Request) {
	if cookie, err := r.Cookie(SessionCookieName); err == nil {
		if sessionID, err := sm.decodeCookie(cookie.Value); err == nil {
			sm.deleteSession(sessionID)
		}
	}
	clearSessionCookie(w)
	writeJSON(w, AuthStatus{})
}
