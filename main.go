package main

import (
	"flag"
	"fmt"
	"log"
	"net/url"
	"path/filepath"
	"strings"
	"time"

	"github.com/samber/lo"
	"golang.org/x/xerrors"

	"github.com/vulndb/nvd-cve-db/db"
	"github.com/vulndb/nvd-cve-db/nvd"
	"github.com/vulndb/nvd-cve-db/stats"
	"github.com/vulndb/nvd-cve-db/utils"
)

// cveIDList collects repeatable -cve flags.
type cveIDList []string

func (l *cveIDList) String() string {
	return strings.Join(*l, ",")
}

func (l *cveIDList) Set(value string) error {
	*l = append(*l, value)
	return nil
}

var (
	importFlag    = flag.Bool("import", false, "download NVD feeds and import them into the database")
	yearFlag      = flag.Int("year", 0, "restrict import or severity stats to a single year")
	yearStatsFlag = flag.Bool("year-stats", false, "display CVE counts by year")
	severityFlag  = flag.String("severity-stats", "", "display severity distribution (V2, V3 or ALL)")
	dbPathFlag    = flag.String("db", "", "path to the SQLite database")
	feedDirFlag   = flag.String("feed-dir", "", "directory for locally cached feed files")
	cveIDs        cveIDList
)

func init() {
	flag.Var(&cveIDs, "cve", "CVE ID to look up (repeatable)")
}

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	flag.Parse()

	if !*importFlag && !*yearStatsFlag && *severityFlag == "" && len(cveIDs) == 0 {
		flag.Usage()
		return xerrors.New("no action specified")
	}

	dbPath := *dbPathFlag
	if dbPath == "" {
		dbPath = utils.LookupEnv("NVD_DB_PATH", filepath.Join(utils.CacheDir(), "nvdcves.db"))
	}

	store, err := db.New(dbPath)
	if err != nil {
		return xerrors.Errorf("failed to open store: %w", err)
	}
	defer store.Close()

	if *importFlag {
		if err := runImport(store); err != nil {
			return err
		}
	}

	engine := stats.NewEngine(store)

	if *yearStatsFlag {
		if err := printYearStats(engine); err != nil {
			return err
		}
	}

	if *severityFlag != "" {
		model := nvd.Model(strings.ToUpper(*severityFlag))
		if err := printSeverityStats(engine, model, *yearFlag); err != nil {
			return err
		}
	}

	if len(cveIDs) > 0 {
		onlyLookups := !*importFlag && !*yearStatsFlag && *severityFlag == ""
		if err := lookupCVEs(store, cveIDs, onlyLookups); err != nil {
			return err
		}
	}

	return nil
}

func runImport(store *db.Store) error {
	var fetcherOpts []nvd.Option
	if baseURL := utils.LookupEnv("NVD_BASE_URL", ""); baseURL != "" {
		fetcherOpts = append(fetcherOpts, nvd.WithBaseURL(lo.Must(url.Parse(baseURL))))
	}
	if *feedDirFlag != "" {
		fetcherOpts = append(fetcherOpts, nvd.WithFeedDir(*feedDirFlag))
	}

	fetcher := nvd.NewFetcher(store, fetcherOpts...)
	importer := nvd.NewImporter(fetcher, store)

	var years []int
	if *yearFlag != 0 {
		years = []int{*yearFlag}
	}

	report, err := importer.Run(years)
	log.Printf("feeds attempted: %d, succeeded: %d, records upserted: %d, malformed entries skipped: %d",
		report.ResourcesAttempted, report.ResourcesSucceeded, report.RecordsUpserted, report.MalformedSkipped)
	for _, resource := range report.Failed {
		log.Printf("feed %s failed", resource)
	}
	if err != nil {
		return xerrors.Errorf("import error: %w", err)
	}
	return nil
}

func printYearStats(engine stats.Engine) error {
	yearStats, err := engine.YearStats()
	if err != nil {
		return xerrors.Errorf("error in year stats: %w", err)
	}

	fmt.Println("CVE counts per year")
	for _, s := range yearStats {
		fmt.Printf("%d: %d YoY: %.2f%% (all=%d, reject=%d, disputed=%d, reserved=%d)\n",
			s.Year, s.Valid, s.YoYGrowth, s.Total, s.Rejected, s.Disputed, s.Reserved)
	}
	return nil
}

// severityOrder is the display order for severity buckets.
var severityOrder = []nvd.Severity{
	nvd.SeverityLow,
	nvd.SeverityMedium,
	nvd.SeverityHigh,
	nvd.SeverityCritical,
}

func printSeverityStats(engine stats.Engine, model nvd.Model, year int) error {
	counts, err := engine.SeverityStats(model, year)
	if err != nil {
		return xerrors.Errorf("error in severity stats: %w", err)
	}

	scope := "all years"
	if year != 0 {
		scope = fmt.Sprintf("year %d", year)
	}
	fmt.Printf("Severity distribution (%s, %s)\n", model, scope)
	for _, severity := range severityOrder {
		if count, ok := counts[severity]; ok {
			fmt.Printf("%s: %d\n", severity, count)
		}
	}
	return nil
}

func lookupCVEs(store *db.Store, ids []string, onlyLookups bool) error {
	found := 0
	for _, cveID := range ids {
		record, err := store.QueryByID(cveID)
		if xerrors.Is(err, db.ErrNotFound) {
			fmt.Printf("%s: no data\n", cveID)
			continue
		}
		if err != nil {
			return xerrors.Errorf("lookup error for %s: %w", cveID, err)
		}
		found++
		printRecord(record)
	}

	if onlyLookups && found == 0 {
		return xerrors.New("no data for requested CVE IDs")
	}
	return nil
}

func printRecord(record nvd.Record) {
	fmt.Printf("%s (%s)\n", record.ID, record.Type)
	if !record.PublishedDate.IsZero() {
		fmt.Printf("  published: %s\n", record.PublishedDate.Format(time.RFC3339))
	}
	if !record.LastModifiedDate.IsZero() {
		fmt.Printf("  modified:  %s\n", record.LastModifiedDate.Format(time.RFC3339))
	}
	if record.CVSSV2 != nil {
		fmt.Printf("  CVSS v2:   %.1f %s %s\n", record.CVSSV2.BaseScore, record.CVSSV2.Severity, record.CVSSV2.Vector)
	}
	if record.CVSSV3 != nil {
		fmt.Printf("  CVSS v3:   %.1f %s %s\n", record.CVSSV3.BaseScore, record.CVSSV3.Severity, record.CVSSV3.Vector)
	}
	if record.Description != "" {
		fmt.Printf("  %s\n", record.Description)
	}
}
