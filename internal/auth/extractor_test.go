package auth

import (
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractBearer(t *testing.T) {
	tests := []struct {
		name    string
		header  string
		want    string
		wantErr error
	}{
		{"valid", "Bearer abc.def.ghi", "abc.def.ghi", nil},
		{"missing header", "", "", ErrNoCredentials},
		{"wrong scheme", "Basic dXNlcjpwYXNz", "", ErrTokenMalformed},
		{"empty credential", "Bearer ", "", ErrTokenMalformed},
		{"lowercase scheme", "bearer abc", "", ErrTokenMalformed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest("GET", "/api/orders", nil)
			if tt.header != "" {
				r.Header.Set("Authorization", tt.header)
			}

			got, err := ExtractBearer(r)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestExtractTenantID_HeaderWinsOverQuery(t *testing.T) {
	r := httptest.NewRequest("GET", "/api/orders?tenant_id=from-query", nil)
	r.Header.Set(TenantHeader, "from-header")

	assert.Equal(t, "from-header", ExtractTenantID(r))
}

func TestExtractTenantID_QueryFallback(t *testing.T) {
	r := httptest.NewRequest("GET", "/api/orders?tenant_id=t7", nil)
	assert.Equal(t, "t7", ExtractTenantID(r))
}

func TestExtractTenantID_Absent(t *testing.T) {
	r := httptest.NewRequest("GET", "/api/orders", nil)
	assert.Equal(t, "", ExtractTenantID(r))
}
