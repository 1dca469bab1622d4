package httpserver_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/recordvault/audittrail/internal/audit"
	"github.com/recordvault/audittrail/internal/auth"
	"github.com/recordvault/audittrail/internal/httpserver"
)

type testEnv struct {
	store  *audit.MemoryStore
	router http.Handler
}

func newTestEnv(t *testing.T, jwtSecret string, requireReview bool) *testEnv {
	t.Helper()
	store := audit.NewMemoryStore()
	wf := audit.NewWorkflow(store, nil, nil)
	rec := audit.NewRecorder(store, wf)
	srv := httpserver.New(httpserver.Options{
		Recorder:      rec,
		Workflow:      wf,
		Verifier:      audit.NewVerifier(store, nil),
		Store:         store,
		JWTSecret:     jwtSecret,
		RequireReview: requireReview,
	})
	return &testEnv{store: store, router: srv.Router()}
}

func (env *testEnv) do(t *testing.T, method, path string, body interface{}, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, req)
	return w
}

func decodeEntry(t *testing.T, w *httptest.ResponseRecorder) *audit.AuditEntry {
	t.Helper()
	var e audit.AuditEntry
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &e))
	return &e
}

func signToken(t *testing.T, secret, sub string, roles ...string) string {
	t.Helper()
	claims := jwt.MapClaims{"sub": sub, "exp": time.Now().Add(time.Hour).Unix()}
	if len(roles) > 0 {
		claims["roles"] = roles
	}
	raw, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	require.NoError(t, err)
	return raw
}

func TestPostEventCreatesChainedEntry(t *testing.T) {
	env := newTestEnv(t, "", false)

	w := env.do(t, http.MethodPost, "/audit/acme/events", map[string]interface{}{
		"eventType":   "custody_transfer",
		"description": "container handed over",
		"actorId":     "u-42",
		"subject":     map[string]string{"type": "container", "id": "c-1"},
		"metadata":    map[string]interface{}{"route": "A7", "legs": 3},
	}, nil)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	first := decodeEntry(t, w)
	assert.Equal(t, audit.GenesisHash, first.PrevHash)
	assert.Equal(t, "u-42", first.ActorID)
	assert.Equal(t, audit.StateValidated, first.State, "info entries are auto-validated")
	assert.NotEmpty(t, first.SequenceRef)

	w = env.do(t, http.MethodPost, "/audit/acme/events", map[string]interface{}{
		"eventType":   "location_update",
		"description": "container scanned at hub",
	}, nil)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	second := decodeEntry(t, w)
	assert.Equal(t, first.ContentHash, second.PrevHash)
}

func TestPostEventRejectsMalformedRequests(t *testing.T) {
	env := newTestEnv(t, "", false)

	// Unknown event type fails domain validation.
	w := env.do(t, http.MethodPost, "/audit/acme/events", map[string]interface{}{
		"eventType":   "exploded",
		"description": "x",
	}, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	// Unknown body fields are rejected outright.
	w = env.do(t, http.MethodPost, "/audit/acme/events", map[string]interface{}{
		"eventType":   "viewed",
		"description": "x",
		"bogus":       true,
	}, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestListAndGetEndpoints(t *testing.T) {
	env := newTestEnv(t, "", false)

	w := env.do(t, http.MethodPost, "/audit/acme/events", map[string]interface{}{
		"eventType":   "created",
		"description": "record created",
	}, nil)
	require.Equal(t, http.StatusCreated, w.Code)
	created := decodeEntry(t, w)

	w = env.do(t, http.MethodGet, "/audit/acme/events", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var list struct {
		Entries []*audit.AuditEntry `json:"entries"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
	require.Len(t, list.Entries, 1)
	assert.Equal(t, created.ID, list.Entries[0].ID)

	// A tenant with no history lists an empty array, not null.
	w = env.do(t, http.MethodGet, "/audit/nobody/events", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"entries":[]}`, w.Body.String())

	w = env.do(t, http.MethodGet, "/audit/entries/99999", nil, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestVerifyEndpointReportsFindings(t *testing.T) {
	env := newTestEnv(t, "", false)

	for i := 0; i < 3; i++ {
		w := env.do(t, http.MethodPost, "/audit/acme/events", map[string]interface{}{
			"eventType":   "location_update",
			"description": "bin moved",
		}, nil)
		require.Equal(t, http.StatusCreated, w.Code)
	}

	w := env.do(t, http.MethodGet, "/audit/acme/verify", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var report struct {
		TenantID string `json:"tenantId"`
		Intact   bool   `json:"intact"`
		Findings []struct {
			EntryID int64  `json:"entryId"`
			Kind    string `json:"kind"`
		} `json:"findings"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &report))
	assert.Equal(t, "acme", report.TenantID)
	assert.True(t, report.Intact)
	assert.Empty(t, report.Findings)
}

func TestLifecycleEndpoints(t *testing.T) {
	env := newTestEnv(t, "", false)

	// Critical entries stay in draft until validated explicitly.
	w := env.do(t, http.MethodPost, "/audit/acme/events", map[string]interface{}{
		"eventType":   "rejected",
		"description": "signature rejected",
		"severity":    "critical",
	}, nil)
	require.Equal(t, http.StatusCreated, w.Code)
	draft := decodeEntry(t, w)
	require.Equal(t, audit.StateDraft, draft.State)

	path := func(op string) string {
		return "/audit/entries/" + strconv.FormatInt(draft.ID, 10) + "/" + op
	}

	w = env.do(t, http.MethodPost, path("validate"), nil, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	validated := decodeEntry(t, w)
	assert.Equal(t, audit.StateValidated, validated.State)
	assert.NotEmpty(t, validated.SequenceRef)

	// Validation is one-way.
	w = env.do(t, http.MethodPost, path("validate"), nil, nil)
	assert.Equal(t, http.StatusConflict, w.Code)

	w = env.do(t, http.MethodPost, path("flag"), nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	w = env.do(t, http.MethodPost, path("resolve"), nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	w = env.do(t, http.MethodPost, path("archive"), nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	archived := decodeEntry(t, w)
	assert.Equal(t, audit.StateArchived, archived.State)

	// Archived is terminal.
	w = env.do(t, http.MethodPost, path("flag"), nil, nil)
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestLifecycleRequiresReviewerRole(t *testing.T) {
	const secret = "test-secret"
	env := newTestEnv(t, secret, true)

	w := env.do(t, http.MethodPost, "/audit/acme/events", map[string]interface{}{
		"eventType":   "rejected",
		"description": "signature rejected",
		"severity":    "critical",
	}, nil)
	require.Equal(t, http.StatusCreated, w.Code)
	draft := decodeEntry(t, w)

	path := "/audit/entries/" + strconv.FormatInt(draft.ID, 10) + "/validate"

	// No token: forbidden.
	w = env.do(t, http.MethodPost, path, nil, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	// Token without the reviewer role: still forbidden.
	auditor := signToken(t, secret, "u-1", auth.RoleAuditor)
	w = env.do(t, http.MethodPost, path, nil, map[string]string{"Authorization": "Bearer " + auditor})
	assert.Equal(t, http.StatusForbidden, w.Code)

	reviewer := signToken(t, secret, "u-2", auth.RoleReviewer)
	w = env.do(t, http.MethodPost, path, nil, map[string]string{"Authorization": "Bearer " + reviewer})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	// Garbage tokens are rejected at the middleware.
	w = env.do(t, http.MethodPost, path, nil, map[string]string{"Authorization": "Bearer not-a-jwt"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestTokenSubjectOverridesBodyActor(t *testing.T) {
	const secret = "test-secret"
	env := newTestEnv(t, secret, false)

	tok := signToken(t, secret, "alice")
	w := env.do(t, http.MethodPost, "/audit/acme/events", map[string]interface{}{
		"eventType":   "viewed",
		"description": "record viewed",
		"actorId":     "mallory",
	}, map[string]string{"Authorization": "Bearer " + tok})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	assert.Equal(t, "alice", decodeEntry(t, w).ActorID)
}

func TestHealthEndpoint(t *testing.T) {
	env := newTestEnv(t, "", false)
	w := env.do(t, http.MethodGet, "/healthz", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok"}`, w.Body.String())
}
