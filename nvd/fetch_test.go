package nvd_test

import (
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/xerrors"

	"github.com/vulndb/nvd-cve-db/nvd"
)

type fakeCache struct {
	refresh  bool
	recorded map[string]time.Time
}

func newFakeCache(refresh bool) *fakeCache {
	return &fakeCache{
		refresh:  refresh,
		recorded: map[string]time.Time{},
	}
}

func (c *fakeCache) NeedsRefresh(string, time.Time) (bool, error) {
	return c.refresh, nil
}

func (c *fakeCache) RecordSuccess(resource string, fetchedAt time.Time) error {
	c.recorded[resource] = fetchedAt
	return nil
}

func TestFetcher_Fetch(t *testing.T) {
	now := time.Date(2021, 6, 1, 12, 0, 0, 0, time.UTC)
	body := []byte(`{"CVE_Items": []}`)

	tests := []struct {
		name         string
		refresh      bool
		localContent []byte
		status       int
		wantHits     int
		wantRecorded bool
		wantFetchErr bool
	}{
		{
			name:         "downloads when refresh is needed",
			refresh:      true,
			status:       http.StatusOK,
			wantHits:     1,
			wantRecorded: true,
		},
		{
			name:         "returns local copy without network when fresh",
			refresh:      false,
			localContent: body,
			status:       http.StatusOK,
			wantHits:     0,
		},
		{
			name:         "downloads again when fresh but local copy is gone",
			refresh:      false,
			status:       http.StatusOK,
			wantHits:     1,
			wantRecorded: true,
		},
		{
			name:         "transport failure leaves cache untouched",
			refresh:      true,
			status:       http.StatusNotFound,
			wantHits:     1,
			wantFetchErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			hits := 0
			ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				hits++
				assert.Equal(t, "/nvdcve-1.1-2021.json.gz", r.URL.Path)
				w.WriteHeader(tt.status)
				_, _ = w.Write(body)
			}))
			defer ts.Close()

			baseURL, err := url.Parse(ts.URL)
			require.NoError(t, err)

			appFs := afero.NewMemMapFs()
			feedDir := "/feeds"
			if tt.localContent != nil {
				localPath := filepath.Join(feedDir, "nvdcve-1.1-2021.json.gz")
				require.NoError(t, afero.WriteFile(appFs, localPath, tt.localContent, 0644))
			}

			cache := newFakeCache(tt.refresh)
			fetcher := nvd.NewFetcher(cache,
				nvd.WithBaseURL(baseURL),
				nvd.WithFeedDir(feedDir),
				nvd.WithAppFs(appFs),
				nvd.WithRetry(0),
				nvd.WithClock(func() time.Time { return now }),
			)

			got, err := fetcher.Fetch("2021")
			assert.Equal(t, tt.wantHits, hits)

			if tt.wantFetchErr {
				require.Error(t, err)
				var fetchErr *nvd.FetchError
				require.True(t, xerrors.As(err, &fetchErr))
				assert.Equal(t, "2021", fetchErr.Resource)
				assert.Empty(t, cache.recorded)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, body, got)

			if tt.wantRecorded {
				assert.Equal(t, now, cache.recorded["2021"])

				// The downloaded bytes must be replayable offline.
				saved, err := afero.ReadFile(appFs, filepath.Join(feedDir, "nvdcve-1.1-2021.json.gz"))
				require.NoError(t, err)
				assert.Equal(t, body, saved)
			} else {
				assert.Empty(t, cache.recorded)
			}
		})
	}
}
