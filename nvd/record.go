package nvd

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Severity is a CVSS severity bucket derived from the base score.
type Severity string

const (
	SeverityLow      Severity = "LOW"
	SeverityMedium   Severity = "MEDIUM"
	SeverityHigh     Severity = "HIGH"
	SeverityCritical Severity = "CRITICAL"
)

// Model selects which CVSS model severity queries aggregate over.
type Model string

const (
	ModelV2  Model = "V2"
	ModelV3  Model = "V3"
	ModelAll Model = "ALL"
)

const (
	TypeValid    = "VALID"
	TypeReject   = "REJECT"
	TypeDisputed = "DISPUTED"
	TypeReserved = "RESERVED"
)

// Metric holds one CVSS sub-model. Score and severity are always
// populated together; an absent sub-model is a nil *Metric.
type Metric struct {
	BaseScore float64
	Severity  Severity
	Vector    string
}

// Record is a normalized CVE entry.
type Record struct {
	ID               string
	Year             int
	PublishedDate    time.Time
	LastModifiedDate time.Time
	Description      string
	Type             string
	CVSSV2           *Metric
	CVSSV3           *Metric
}

var cveIDRegexp = regexp.MustCompile(`^CVE-(\d{4})-\d{4,}$`)

// YearFromID extracts the year segment of a CVE ID.
func YearFromID(cveID string) (int, bool) {
	m := cveIDRegexp.FindStringSubmatch(cveID)
	if len(m) != 2 {
		return 0, false
	}
	year, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, false
	}
	return year, true
}

func v2Severity(score float64) Severity {
	switch {
	case score < 4.0:
		return SeverityLow
	case score < 7.0:
		return SeverityMedium
	default:
		return SeverityHigh
	}
}

func v3Severity(score float64) Severity {
	switch {
	case score < 4.0:
		return SeverityLow
	case score < 7.0:
		return SeverityMedium
	case score < 9.0:
		return SeverityHigh
	default:
		return SeverityCritical
	}
}

// classifyType inspects the description markers used by NVD for
// rejected, disputed and reserved entries. When several markers
// appear, RESERVED takes precedence over DISPUTED over REJECT.
func classifyType(description string) string {
	switch {
	case strings.Contains(description, "** RESERVED **"):
		return TypeReserved
	case strings.Contains(description, "** DISPUTED **"):
		return TypeDisputed
	case strings.Contains(description, "** REJECT **"):
		return TypeReject
	}
	return TypeValid
}
