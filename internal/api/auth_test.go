package api

import (
	"encoding/base64"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewSessionManagerRequiresToken(t *testing.T) {
	_, err := NewSessionManager("", nil)
	assert.Error(t, err)
}

func TestNilSessionManagerAdmitsNobody(t *testing.T) {
	var sm *SessionManager
	req := httptest.NewRequest(http.MethodPost, "/", nil)
	req.Header.Set("Authorization", "Bearer anything")
	assert.False(t, sm.IsAdmin(req))
}

func TestSessionCookieSignature(t *testing.T) {
	sm, err := NewSessionManager("s3cret", nil)
	require.NoError(t, err)
	defer sm.Stop()

	_, err = sm.Login("wrong")
	assert.ErrorIs(t, err, ErrBadAdminToken)

	sessionID, err := sm.Login("s3cret")
	require.NoError(t, err)

	withCookie := func(value string) *http.Request {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.AddCookie(&http.Cookie{Name: SessionCookieName, Value: value})
		return req
	}

	assert.True(t, sm.IsAdmin(withCookie(sm.encodeCookie(sessionID))))

	forged := base64.URLEncoding.EncodeToString([]byte(sessionID + ".deadbeef"))
	assert.False(t, sm.IsAdmin(withCookie(forged)))
	assert.False(t, sm.IsAdmin(withCookie("not base64!")))

	// A correctly signed cookie for an unknown session is still refused.
	assert.False(t, sm.IsAdmin(withCookie(sm.encodeCookie("unknown"))))

	sm.deleteSession(sessionID)
	assert.False(t, sm.IsAdmin(withCookie(sm.encodeCookie(sessionID))))
}

func TestBearerTokenTakesPrecedence(t *testing.T) {
	sm, err := NewSessionManager("s3cret", nil)
	require.NoError(t, err)
	defer sm.Stop()

	sessionID, err := sm.Login("s3cret")
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(&http.Cookie{Name: SessionCookieName, Value: sm.encodeCookie(sessionID)})
	req.Header.Set("Authorization", "Bearer wrong")
	assert.False(t, sm.IsAdmin(req), "a bad bearer token is not rescued by a cookie")

	req.Header.Set("Authorization", "Bearer s3cret")
	assert.True(t, sm.IsAdmin(req))
}
