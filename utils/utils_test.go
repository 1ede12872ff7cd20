package utils_test

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vulndb/nvd-cve-db/utils"
)

func TestFetchURL(t *testing.T) {
	tests := []struct {
		name       string
		status     int
		body       string
		wantApiKey string
		wantErr    string
	}{
		{
			name:   "happy path",
			status: http.StatusOK,
			body:   `{"CVE_Items": []}`,
		},
		{
			name:       "happy path with api key",
			status:     http.StatusOK,
			body:       `{"CVE_Items": []}`,
			wantApiKey: "test_api_key",
		},
		{
			name:    "sad path, 404",
			status:  http.StatusNotFound,
			wantErr: "status code: 404",
		},
		{
			name:    "sad path, 503",
			status:  http.StatusServiceUnavailable,
			wantErr: "status code: 503",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if tt.wantApiKey != "" {
					assert.Equal(t, tt.wantApiKey, r.Header.Get("api-key"))
				}
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer ts.Close()

			got, err := utils.FetchURL(ts.URL, tt.wantApiKey, 0)
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.body, string(got))
		})
	}
}

func TestLookupEnv(t *testing.T) {
	t.Setenv("NVD_CVE_DB_TEST_KEY", "from-env")
	assert.Equal(t, "from-env", utils.LookupEnv("NVD_CVE_DB_TEST_KEY", "fallback"))
	assert.Equal(t, "fallback", utils.LookupEnv("NVD_CVE_DB_MISSING_KEY", "fallback"))
}
