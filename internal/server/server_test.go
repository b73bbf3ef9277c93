package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/registry/internal/authorization"
	"github.com/smallbiznis/registry/internal/observability"
	"github.com/smallbiznis/registry/internal/ratelimit"
	"github.com/smallbiznis/registry/internal/registrytest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var now = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

type stubAuthz struct {
	denied     map[string]bool
	superusers map[string]bool
	actions    []string
}

func (s *stubAuthz) Authorize(ctx context.Context, registrarID string, action string) error {
	s.actions = append(s.actions, action)
	if s.denied[action] {
		return authorization.ErrForbidden
	}
	return nil
}

func (s *stubAuthz) IsSuperuser(ctx context.Context, registrarID string) (bool, error) {
	return s.superusers[registrarID], nil
}

func (s *stubAuthz) GrantSuperuser(ctx context.Context, registrarID string) error {
	return nil
}

func (s *stubAuthz) RevokeSuperuser(ctx context.Context, registrarID string) error {
	return nil
}

type stubLimiter struct {
	allow bool
	err   error
	calls []ratelimit.Class
}

func (l *stubLimiter) Allow(ctx context.Context, registrarID string, class ratelimit.Class) (*ratelimit.RateLimitResult, error) {
	l.calls = append(l.calls, class)
	if l.err != nil {
		return nil, l.err
	}
	return &ratelimit.RateLimitResult{Allowed: l.allow, RetryAfter: 1500 * time.Millisecond}, nil
}

func newTestServer(t *testing.T) (*gin.Engine, *registrytest.Env, *stubAuthz) {
	engine, env, authz, _ := newServerWithLimiter(t, nil)
	return engine, env, authz
}

func newServerWithLimiter(t *testing.T, limiter commandLimiter) (*gin.Engine, *registrytest.Env, *stubAuthz, *Server) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	env := registrytest.New(t, now)
	authz := &stubAuthz{denied: map[string]bool{}, superusers: map[string]bool{}}
	engine := NewEngine(observability.Config{})
	srv := NewServer(ServerParams{
		Gin:   engine,
		Flows: env.Flows,
		Authz: authz,
		Clock: env.Clock,
		Log:   zap.NewNop(),
	})
	srv.limiter = limiter
	return engine, env, authz, srv
}

func doJSON(t *testing.T, r http.Handler, path, registrarID string, body any) *httptest.ResponseRecorder {
	t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")
	if registrarID != "" {
		req.Header.Set(HeaderRegistrar, registrarID)
	}
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)
	return resp
}

func decodeError(t *testing.T, resp *httptest.ResponseRecorder) errorPayload {
	t.Helper()
	var out errorResponse
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &out))
	return out.Error
}

func TestHealth(t *testing.T) {
	r, _, _ := newTestServer(t)

	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, resp.Code)
}

func TestCheckReportsAvailability(t *testing.T) {
	r, _, authz := newTestServer(t)

	resp := doJSON(t, r, "/v1/domains/check", "losing", gin.H{
		"names": []string{"free.example", "reserved.example"},
	})
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())

	var out struct {
		Command string `json:"command"`
		Checks  []struct {
			Name      string `json:"name"`
			Available bool   `json:"available"`
			Reason    string `json:"reason"`
		} `json:"checks"`
	}
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &out))
	require.Len(t, out.Checks, 2)
	assert.True(t, out.Checks[0].Available)
	assert.False(t, out.Checks[1].Available)
	assert.Equal(t, "registry use", out.Checks[1].Reason)
	assert.Equal(t, []string{authorization.ActionCheck}, authz.actions)
}

func TestCreateReturnsDomainAndFees(t *testing.T) {
	r, env, _ := newTestServer(t)

	resp := doJSON(t, r, "/v1/domains/create", "losing", gin.H{
		"name":      "Foo.Example",
		"years":     2,
		"auth_info": registrytest.AuthInfo,
	})
	require.Equal(t, http.StatusCreated, resp.Code, resp.Body.String())

	var out struct {
		Domain struct {
			Name        string `json:"name"`
			RegistrarID string `json:"registrar_id"`
		} `json:"domain"`
		Fees struct {
			Total struct {
				Amount   string `json:"amount"`
				Currency string `json:"currency"`
			} `json:"total"`
		} `json:"fees"`
	}
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &out))
	assert.Equal(t, "foo.example", out.Domain.Name)
	assert.Equal(t, "losing", out.Domain.RegistrarID)
	assert.Equal(t, "24.00", out.Fees.Total.Amount)
	assert.Equal(t, "USD", out.Fees.Total.Currency)

	exists, err := env.Domains.Exists(context.Background(), env.DB, "foo.example", now)
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestCreateExistingIsConflict(t *testing.T) {
	r, _, _ := newTestServer(t)
	body := gin.H{"name": "taken.example", "years": 1, "auth_info": registrytest.AuthInfo}

	require.Equal(t, http.StatusCreated, doJSON(t, r, "/v1/domains/create", "losing", body).Code)

	resp := doJSON(t, r, "/v1/domains/create", "gaining", body)
	require.Equal(t, http.StatusConflict, resp.Code)
	payload := decodeError(t, resp)
	assert.Equal(t, "conflict", payload.Type)
	assert.Equal(t, "domain_already_exists", payload.Code)
}

func TestMissingRegistrarIsUnauthorized(t *testing.T) {
	r, _, authz := newTestServer(t)

	resp := doJSON(t, r, "/v1/domains/check", "", gin.H{"names": []string{"free.example"}})
	assert.Equal(t, http.StatusUnauthorized, resp.Code)
	assert.Equal(t, "unauthorized", decodeError(t, resp).Type)
	assert.Empty(t, authz.actions)
}

func TestDeniedActionIsForbidden(t *testing.T) {
	r, _, authz := newTestServer(t)
	authz.denied[authorization.ActionCreate] = true

	resp := doJSON(t, r, "/v1/domains/create", "losing", gin.H{
		"name": "foo.example", "years": 1, "auth_info": registrytest.AuthInfo,
	})
	assert.Equal(t, http.StatusForbidden, resp.Code)
	assert.Equal(t, "forbidden", decodeError(t, resp).Code)
}

func TestSuperuserFlagRequiresRole(t *testing.T) {
	r, _, authz := newTestServer(t)

	resp := doJSON(t, r, "/v1/domains/recurrence", "losing", gin.H{
		"name":                   "foo.example",
		"superuser":              true,
		"renewal_price_behavior": "specified",
	})
	assert.Equal(t, http.StatusForbidden, resp.Code)
	assert.Equal(t, "superuser_required", decodeError(t, resp).Code)

	authz.superusers["losing"] = true
	resp = doJSON(t, r, "/v1/domains/recurrence", "losing", gin.H{
		"name":                   "foo.example",
		"superuser":              true,
		"renewal_price_behavior": "specified",
	})
	assert.NotEqual(t, "superuser_required", decodeError(t, resp).Code)
}

func TestTransferRequestStartsPendingTransfer(t *testing.T) {
	r, env, _ := newTestServer(t)
	env.SeedDomain(t, "foo.example", "losing", now.AddDate(0, -6, 0), 2)

	resp := doJSON(t, r, "/v1/domains/transfer/request", "gaining", gin.H{
		"name":      "foo.example",
		"auth_info": registrytest.AuthInfo,
	})
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())

	var out struct {
		Domain struct {
			Transfer struct {
				Status             string `json:"status"`
				GainingRegistrarID string `json:"gaining_registrar_id"`
			} `json:"transfer"`
		} `json:"domain"`
	}
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &out))
	assert.Equal(t, "PENDING", out.Domain.Transfer.Status)
	assert.Equal(t, "gaining", out.Domain.Transfer.GainingRegistrarID)
}

func TestUnknownTransferOpIsValidationError(t *testing.T) {
	r, _, _ := newTestServer(t)

	resp := doJSON(t, r, "/v1/domains/transfer/steal", "gaining", gin.H{"name": "foo.example"})
	assert.Equal(t, http.StatusBadRequest, resp.Code)
	payload := decodeError(t, resp)
	assert.Equal(t, "validation_error", payload.Type)
	assert.Equal(t, "unknown_transfer_op", payload.Code)
}

func TestMalformedBodyIsInvalidRequest(t *testing.T) {
	r, _, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/v1/domains/create", bytes.NewBufferString(`{"name":`))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(HeaderRegistrar, "losing")
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)

	assert.Equal(t, http.StatusBadRequest, resp.Code)
	payload := decodeError(t, resp)
	assert.Equal(t, "invalid_request", payload.Code)
	require.Len(t, payload.Errors, 1)
	assert.Equal(t, "request", payload.Errors[0].Field)
}

func TestRateLimitedRegistrarGetsRetryAfter(t *testing.T) {
	limiter := &stubLimiter{allow: false}
	r, _, authz, _ := newServerWithLimiter(t, limiter)

	resp := doJSON(t, r, "/v1/domains/create", "losing", gin.H{
		"name": "foo.example", "years": 1, "auth_info": registrytest.AuthInfo,
	})
	assert.Equal(t, http.StatusTooManyRequests, resp.Code)
	assert.Equal(t, "2", resp.Header().Get("Retry-After"))
	assert.Equal(t, "rate_limited", decodeError(t, resp).Type)
	assert.Equal(t, []ratelimit.Class{ratelimit.ClassMutate}, limiter.calls)
	assert.Empty(t, authz.actions)
}

func TestChecksUseTheirOwnBucket(t *testing.T) {
	limiter := &stubLimiter{allow: true}
	r, _, _, _ := newServerWithLimiter(t, limiter)

	resp := doJSON(t, r, "/v1/domains/check", "losing", gin.H{"names": []string{"free.example"}})
	assert.Equal(t, http.StatusOK, resp.Code)
	assert.Equal(t, []ratelimit.Class{ratelimit.ClassCheck}, limiter.calls)
}

func TestLimiterFailureLetsRequestsThrough(t *testing.T) {
	limiter := &stubLimiter{err: errors.New("connection refused")}
	r, _, _, _ := newServerWithLimiter(t, limiter)

	resp := doJSON(t, r, "/v1/domains/check", "losing", gin.H{"names": []string{"free.example"}})
	assert.Equal(t, http.StatusOK, resp.Code)
}

func TestClassifyErrorForLog(t *testing.T) {
	kind, code := classifyErrorForLog(authorization.ErrForbidden)
	assert.Equal(t, "forbidden", kind)
	assert.Equal(t, "forbidden", code)

	kind, code = classifyErrorForLog(ErrUnauthorized)
	assert.Equal(t, "unauthorized", kind)
	assert.Equal(t, "unauthorized", code)

	kind, _ = classifyErrorForLog(invalidRequestError())
	assert.Equal(t, "validation", kind)
}
