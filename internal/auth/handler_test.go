package auth

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func jsonRequest(t *testing.T, method, target string, payload any) *http.Request {
	t.Helper()
	body, err := json.Marshal(payload)
	require.NoError(t, err)
	req := httptest.NewRequest(method, target, bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	return req
}

func TestLoginEndpoint(t *testing.T) {
	store := newMemStore()
	store.addUser(t, "alice", "alice@example.com", "password123", RoleUser)
	handler := NewHandler(newTestService(store))

	rec := httptest.NewRecorder()
	handler.Login(rec, jsonRequest(t, http.MethodPost, "/auth/login", map[string]string{
		"email":    "alice@example.com",
		"password": "password123",
	}))

	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeEnvelope(t, rec)
	assert.Equal(t, true, body["success"])
	assert.NotEmpty(t, body["accessToken"])
	assert.NotEmpty(t, body["refreshToken"])

	user, ok := body["user"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "alice", user["username"])
	assert.Equal(t, "user", user["role"])
	assert.NotContains(t, user, "password")
	assert.NotContains(t, user, "passwordHash")
}

func TestLoginEndpointWrongPassword(t *testing.T) {
	store := newMemStore()
	store.addUser(t, "alice", "alice@example.com", "password123", RoleUser)
	handler := NewHandler(newTestService(store))

	rec := httptest.NewRecorder()
	handler.Login(rec, jsonRequest(t, http.MethodPost, "/auth/login", map[string]string{
		"email":    "alice@example.com",
		"password": "wrong-password",
	}))

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	body := decodeEnvelope(t, rec)
	assert.Equal(t, false, body["success"])
}

func TestLoginEndpointLockedAccount(t *testing.T) {
	store := newMemStore()
	user := store.addUser(t, "alice", "alice@example.com", "password123", RoleUser)
	until := time.Now().Add(10 * time.Minute)
	store.users[user.ID].LockedUntil = &until
	handler := NewHandler(newTestService(store))

	rec := httptest.NewRecorder()
	handler.Login(rec, jsonRequest(t, http.MethodPost, "/auth/login", map[string]string{
		"email":    "alice@example.com",
		"password": "password123",
	}))

	assert.Equal(t, http.StatusLocked, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))
}

func TestLoginEndpointAdminStepUp(t *testing.T) {
	store := newMemStore()
	store.addUser(t, "root", "root@example.com", "Sup3rSecret!pass", RoleAdmin)
	handler := NewHandler(newTestService(store))

	rec := httptest.NewRecorder()
	handler.Login(rec, jsonRequest(t, http.MethodPost, "/auth/login", map[string]string{
		"email":    "root@example.com",
		"password": "Sup3rSecret!pass",
	}))

	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestRegisterEndpoint(t *testing.T) {
	handler := NewHandler(newTestService(newMemStore()))

	rec := httptest.NewRecorder()
	handler.Register(rec, jsonRequest(t, http.MethodPost, "/auth/register", map[string]string{
		"username": "bob",
		"email":    "bob@example.com",
		"password": "password123",
	}))

	require.Equal(t, http.StatusCreated, rec.Code)
	body := decodeEnvelope(t, rec)
	assert.Equal(t, true, body["success"])
}

func TestRegisterEndpointRejectsRole(t *testing.T) {
	handler := NewHandler(newTestService(newMemStore()))

	rec := httptest.NewRecorder()
	handler.Register(rec, jsonRequest(t, http.MethodPost, "/auth/register", map[string]string{
		"username": "bob",
		"email":    "bob@example.com",
		"password": "password123",
		"role":     "admin",
	}))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRegisterEndpointDuplicate(t *testing.T) {
	store := newMemStore()
	store.addUser(t, "bob", "bob@example.com", "password123", RoleUser)
	handler := NewHandler(newTestService(store))

	rec := httptest.NewRecorder()
	handler.Register(rec, jsonRequest(t, http.MethodPost, "/auth/register", map[string]string{
		"username": "bob",
		"email":    "new@example.com",
		"password": "password123",
	}))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRegisterAdminEndpoint(t *testing.T) {
	handler := NewHandler(newTestService(newMemStore()))

	rec := httptest.NewRecorder()
	handler.RegisterAdmin(rec, jsonRequest(t, http.MethodPost, "/auth/register-admin", map[string]string{
		"username":   "root",
		"email":      "root@example.com",
		"password":   "Sup3rSecret!pass",
		"adminToken": testAdminSecret,
	}))

	require.Equal(t, http.StatusCreated, rec.Code)
	body := decodeEnvelope(t, rec)
	admin, ok := body["admin"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "root", admin["username"])
	assert.Equal(t, "root@example.com", admin["email"])
	assert.NotEmpty(t, admin["id"])
}

func TestRegisterAdminEndpointBadToken(t *testing.T) {
	handler := NewHandler(newTestService(newMemStore()))

	rec := httptest.NewRecorder()
	handler.RegisterAdmin(rec, jsonRequest(t, http.MethodPost, "/auth/register-admin", map[string]string{
		"username":   "root",
		"email":      "root@example.com",
		"password":   "Sup3rSecret!pass",
		"adminToken": "wrong",
	}))

	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestRefreshEndpoint(t *testing.T) {
	store := newMemStore()
	store.addUser(t, "alice", "alice@example.com", "password123", RoleUser)
	service := newTestService(store)
	handler := NewHandler(service)

	loginRec := httptest.NewRecorder()
	handler.Login(loginRec, jsonRequest(t, http.MethodPost, "/auth/login", map[string]string{
		"email":    "alice@example.com",
		"password": "password123",
	}))
	require.Equal(t, http.StatusOK, loginRec.Code)
	loginBody := decodeEnvelope(t, loginRec)

	rec := httptest.NewRecorder()
	handler.Refresh(rec, jsonRequest(t, http.MethodPost, "/auth/refresh", map[string]string{
		"refreshToken": loginBody["refreshToken"].(string),
	}))

	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeEnvelope(t, rec)
	assert.Equal(t, true, body["success"])
	assert.NotEmpty(t, body["accessToken"])
	assert.NotContains(t, body, "refreshToken")
}

func TestRefreshEndpointExpiredTokenIsGeneric(t *testing.T) {
	store := newMemStore()
	user := store.addUser(t, "alice", "alice@example.com", "password123", RoleUser)
	service := newTestService(store)
	handler := NewHandler(service)

	service.tokens.now = func() time.Time { return time.Now().Add(-30 * 24 * time.Hour) }
	expired, err := service.tokens.IssueRefreshToken(user.ID)
	require.NoError(t, err)
	service.tokens.now = time.Now

	rec := httptest.NewRecorder()
	handler.Refresh(rec, jsonRequest(t, http.MethodPost, "/auth/refresh", map[string]string{
		"refreshToken": expired,
	}))

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	body := decodeEnvelope(t, rec)
	// Unlike the access guard, the refresh endpoint does not reveal
	// that the failure was an expiry.
	assert.NotContains(t, body, "code")
}

func TestLogoutEndpointIdempotent(t *testing.T) {
	store := newMemStore()
	user := store.addUser(t, "alice", "alice@example.com", "password123", RoleUser)
	service := newTestService(store)
	handler := NewHandler(service)

	refreshToken, err := service.tokens.IssueRefreshToken(user.ID)
	require.NoError(t, err)
	require.NoError(t, store.AppendRefreshToken(t.Context(), user.ID, refreshToken, time.Now()))

	identity := Identity{ID: user.ID, Role: RoleUser}
	for i := 0; i < 2; i++ {
		req := jsonRequest(t, http.MethodPost, "/auth/logout", map[string]string{
			"refreshToken": refreshToken,
		})
		req = req.WithContext(WithIdentity(req.Context(), identity))
		rec := httptest.NewRecorder()
		handler.Logout(rec, req)

		assert.Equal(t, http.StatusOK, rec.Code)
		body := decodeEnvelope(t, rec)
		assert.Equal(t, true, body["success"])
	}
}

func TestMeEndpoint(t *testing.T) {
	store := newMemStore()
	user := store.addUser(t, "alice", "alice@example.com", "password123", RoleUser)
	handler := NewHandler(newTestService(store))

	req := httptest.NewRequest(http.MethodGet, "/auth/me", nil)
	req = req.WithContext(WithIdentity(req.Context(), Identity{ID: user.ID, Role: RoleUser}))
	rec := httptest.NewRecorder()
	handler.Me(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeEnvelope(t, rec)
	data, ok := body["data"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, user.ID, data["id"])
	assert.NotContains(t, data, "passwordHash")
	assert.NotContains(t, data, "refreshTokens")
}

func TestMeEndpointUnknownUser(t *testing.T) {
	handler := NewHandler(newTestService(newMemStore()))

	req := httptest.NewRequest(http.MethodGet, "/auth/me", nil)
	req = req.WithContext(WithIdentity(req.Context(), Identity{ID: "gone", Role: RoleUser}))
	rec := httptest.NewRecorder()
	handler.Me(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}
