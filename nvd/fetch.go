package nvd

import (
	"fmt"
	"net/url"
	"path/filepath"
	"time"

	"github.com/samber/lo"
	"github.com/spf13/afero"
	"golang.org/x/xerrors"

	"github.com/vulndb/nvd-cve-db/utils"
)

const (
	baseURL = "https://nvd.nist.gov/feeds/json/cve/1.1/"
	retry   = 5
)

// FeedCache records the last successful fetch per feed resource. The
// store keeps it in the fetch_cache table so it survives restarts.
type FeedCache interface {
	NeedsRefresh(resource string, now time.Time) (bool, error)
	RecordSuccess(resource string, fetchedAt time.Time) error
}

// FetchError wraps a transport failure for a single feed resource.
// The importer recovers from it at resource granularity.
type FetchError struct {
	Resource string
	Err      error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("failed to fetch feed %q: %v", e.Resource, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

type Option func(*options)

type options struct {
	baseURL *url.URL
	feedDir string
	appFs   afero.Fs
	retry   int
	clock   func() time.Time
}

func WithBaseURL(u *url.URL) Option {
	return func(opts *options) {
		opts.baseURL = u
	}
}

func WithFeedDir(dir string) Option {
	return func(opts *options) {
		opts.feedDir = dir
	}
}

func WithAppFs(fs afero.Fs) Option {
	return func(opts *options) {
		opts.appFs = fs
	}
}

func WithRetry(retry int) Option {
	return func(opts *options) {
		opts.retry = retry
	}
}

func WithClock(clock func() time.Time) Option {
	return func(opts *options) {
		opts.clock = clock
	}
}

// Fetcher retrieves raw feed bytes, keeping an on-disk copy per
// resource so non-refreshing fetches work offline.
type Fetcher struct {
	*options
	cache FeedCache
}

func NewFetcher(cache FeedCache, opts ...Option) Fetcher {
	o := &options{
		baseURL: lo.Must(url.Parse(baseURL)),
		feedDir: utils.FeedDir(),
		appFs:   afero.NewOsFs(),
		retry:   retry,
		clock:   time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	return Fetcher{
		options: o,
		cache:   cache,
	}
}

// Fetch returns the raw (still compressed) bytes for a feed resource,
// which is a year like "2002" or one of the rolling "modified" and
// "recent" identifiers. A fresh local copy short-circuits the network;
// a transport failure leaves the cache state untouched.
func (f Fetcher) Fetch(resource string) ([]byte, error) {
	fileName := fmt.Sprintf("nvdcve-1.1-%s.json.gz", resource)
	localPath := filepath.Join(f.feedDir, fileName)
	now := f.clock()

	refresh, err := f.cache.NeedsRefresh(resource, now)
	if err != nil {
		return nil, xerrors.Errorf("failed to check feed freshness: %w", err)
	}
	if !refresh {
		b, err := afero.ReadFile(f.appFs, localPath)
		if err == nil {
			return b, nil
		}
		// The local copy disappeared even though the cache says it is
		// fresh. Fall through and download again.
	}

	u := f.baseURL.ResolveReference(&url.URL{Path: fileName})
	b, err := utils.FetchURL(u.String(), "", f.retry)
	if err != nil {
		return nil, &FetchError{Resource: resource, Err: err}
	}

	if err := f.appFs.MkdirAll(f.feedDir, 0755); err != nil {
		return nil, xerrors.Errorf("failed to create feed dir: %w", err)
	}
	if err := afero.WriteFile(f.appFs, localPath, b, 0644); err != nil {
		return nil, xerrors.Errorf("failed to save feed %s: %w", fileName, err)
	}
	if err := f.cache.RecordSuccess(resource, now); err != nil {
		return nil, xerrors.Errorf("failed to record fetch time: %w", err)
	}
	return b, nil
}
