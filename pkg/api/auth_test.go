package api

import (
	"net/http"
	"net/http/httptest"
	"testing"

	echo "github.com/labstack/echo/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractUser(t *testing.T) {
	tests := []struct {
		name    string
		headers map[string]string
		want    string
	}{
		{
			name:    "prefers X-Forwarded-User",
			headers: map[string]string{"X-Forwarded-User": "alice", "X-Forwarded-Email": "a@example.com"},
			want:    "alice",
		},
		{
			name:    "falls back to X-Forwarded-Email",
			headers: map[string]string{"X-Forwarded-Email": "a@example.com", "X-Remote-User": "bob"},
			want:    "a@example.com",
		},
		{
			name:    "falls back to X-Remote-User",
			headers: map[string]string{"X-Remote-User": "bob"},
			want:    "bob",
		},
		{
			name: "defaults to api-client",
			want: "api-client",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := echo.New()
			var got string
			e.GET("/probe", func(c *echo.Context) error {
				got = extractUser(c)
				return c.NoContent(http.StatusNoContent)
			})

			req := httptest.NewRequest(http.MethodGet, "/probe", nil)
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}
			rec := httptest.NewRecorder()
			e.ServeHTTP(rec, req)

			require.Equal(t, http.StatusNoContent, rec.Code)
			assert.Equal(t, tt.want, got)
		})
	}
}
