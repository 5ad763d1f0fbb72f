package app

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/clubledger/clubledger/internal/shared"
)

func principalProbe(t *testing.T) (http.Handler, *shared.Principal) {
	t.Helper()
	captured := &shared.Principal{}
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p, ok := shared.PrincipalFromContext(r.Context())
		require.True(t, ok)
		*captured = p
		w.WriteHeader(http.StatusOK)
	})
	return PrincipalMiddleware(NewLogger(nil))(inner), captured
}

func TestPrincipalMiddlewareParsesHeaders(t *testing.T) {
	handler, captured := principalProbe(t)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Tenant-ID", "3")
	req.Header.Set("X-Member-ID", "42")
	req.Header.Set("X-Roles", "ADMIN, MEMBER")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, int64(3), captured.TenantID)
	require.Equal(t, int64(42), captured.MemberID)
	require.Equal(t, []shared.Role{shared.RoleAdmin, shared.RoleMember}, captured.Roles)
}

func TestPrincipalMiddlewareDefaultsToMemberRole(t *testing.T) {
	handler, captured := principalProbe(t)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Tenant-ID", "3")
	req.Header.Set("X-Member-ID", "42")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, []shared.Role{shared.RoleMember}, captured.Roles)
}

func TestPrincipalMiddlewareRejectsMissingIdentity(t *testing.T) {
	handler, _ := principalProbe(t)

	for _, headers := range []map[string]string{
		{},
		{"X-Tenant-ID": "3"},
		{"X-Member-ID": "42"},
		{"X-Tenant-ID": "0", "X-Member-ID": "42"},
		{"X-Tenant-ID": "abc", "X-Member-ID": "42"},
	} {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		for k, v := range headers {
			req.Header.Set(k, v)
		}
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		require.Equal(t, http.StatusUnauthorized, rec.Code)
	}
}

func TestPrincipalMiddlewareUnknownRoleGainsNothing(t *testing.T) {
	handler, captured := principalProbe(t)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Tenant-ID", "3")
	req.Header.Set("X-Member-ID", "42")
	req.Header.Set("X-Roles", "SUPERUSER")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.False(t, captured.Can(shared.CapGenerateInvoices))
}
