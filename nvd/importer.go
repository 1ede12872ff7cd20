package nvd

import (
	"log"
	"strconv"
	"time"

	"github.com/cheggaaa/pb/v3"
	"golang.org/x/xerrors"
)

// NVD publishes per-year feeds starting with 2002.
const firstFeedYear = 2002

// FeedFetcher is implemented by Fetcher.
type FeedFetcher interface {
	Fetch(resource string) ([]byte, error)
}

// Store persists one feed file as a single atomic batch.
type Store interface {
	UpsertMany(records []Record) error
}

// Report summarizes one import run.
type Report struct {
	ResourcesAttempted int
	ResourcesSucceeded int
	RecordsUpserted    int
	MalformedSkipped   int
	Failed             []string
}

type importerOption func(*Importer)

func WithImportClock(clock func() time.Time) importerOption {
	return func(imp *Importer) {
		imp.clock = clock
	}
}

// Importer drives fetch, parse and upsert per feed resource.
type Importer struct {
	fetcher FeedFetcher
	store   Store
	clock   func() time.Time
}

func NewImporter(fetcher FeedFetcher, store Store, opts ...importerOption) Importer {
	imp := Importer{
		fetcher: fetcher,
		store:   store,
		clock:   time.Now,
	}
	for _, opt := range opts {
		opt(&imp)
	}
	return imp
}

// Run imports the feeds for the given years, or the full known range
// plus the rolling "modified" and "recent" feeds when no years are
// given. A failing resource is logged, counted and skipped; the run
// fails only when every requested resource failed.
func (imp Importer) Run(years []int) (Report, error) {
	resources := imp.resourceList(years)

	report := Report{
		ResourcesAttempted: len(resources),
	}

	log.Printf("Importing %d NVD feeds...", len(resources))
	bar := pb.StartNew(len(resources))
	for _, resource := range resources {
		if err := imp.importOne(resource, &report); err != nil {
			log.Printf("feed %s skipped: %v", resource, err)
			report.Failed = append(report.Failed, resource)
		} else {
			report.ResourcesSucceeded++
		}
		bar.Increment()
	}
	bar.Finish()

	if report.ResourcesAttempted > 0 && report.ResourcesSucceeded == 0 {
		return report, xerrors.New("all feed imports failed")
	}
	return report, nil
}

func (imp Importer) importOne(resource string, report *Report) error {
	raw, err := imp.fetcher.Fetch(resource)
	if err != nil {
		return xerrors.Errorf("fetch failed: %w", err)
	}

	records, malformed, err := Parse(raw)
	if err != nil {
		return xerrors.Errorf("parse failed: %w", err)
	}

	if err := imp.store.UpsertMany(records); err != nil {
		return xerrors.Errorf("store failed: %w", err)
	}
	report.RecordsUpserted += len(records)
	report.MalformedSkipped += malformed
	return nil
}

func (imp Importer) resourceList(years []int) []string {
	if len(years) > 0 {
		resources := make([]string, 0, len(years))
		for _, year := range years {
			resources = append(resources, strconv.Itoa(year))
		}
		return resources
	}

	var resources []string
	for year := firstFeedYear; year <= imp.clock().Year(); year++ {
		resources = append(resources, strconv.Itoa(year))
	}
	return append(resources, "modified", "recent")
}
