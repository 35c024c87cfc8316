package identity

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func serve(t *testing.T, target string, header http.Header) (*httptest.ResponseRecorder, string, string) {
	t.Helper()
	var gotUser, gotSession string
	r := chi.NewRouter()
	r.With(Middleware).Get("/ws/{user_id}", func(w http.ResponseWriter, r *http.Request) {
		gotUser = UserIDFromContext(r.Context())
		gotSession = SessionIDFromContext(r.Context())
		w.WriteHeader(http.StatusNoContent)
	})
	req := httptest.NewRequest(http.MethodGet, target, nil)
	for k, v := range header {
		req.Header[http.CanonicalHeaderKey(k)] = v
	}
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec, gotUser, gotSession
}

func TestMiddlewareAssignsSessionID(t *testing.T) {
	rec, user, session := serve(t, "/ws/9876543210", nil)
	require.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "9876543210", user)
	_, err := uuid.Parse(session)
	assert.NoError(t, err, "generated session id should be a uuid")
}

func TestMiddlewareHonoursClientSessionID(t *testing.T) {
	_, _, session := serve(t, "/ws/9876543210", http.Header{SessionHeaderName: {"tab-1"}})
	assert.Equal(t, "tab-1", session)

	_, _, session = serve(t, "/ws/9876543210?session_id=tab-2", nil)
	assert.Equal(t, "tab-2", session)

	_, _, session = serve(t, "/ws/9876543210?session_id=bad%20id", nil)
	assert.NotEqual(t, "bad id", session)
}

func TestMiddlewareRejectsInvalidUserID(t *testing.T) {
	rec, _, _ := serve(t, "/ws/bad%20user", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
