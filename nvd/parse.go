package nvd

import (
	"bytes"
	"encoding/json"
	"io"

	"github.com/araddon/dateparse"
	"github.com/klauspost/compress/gzip"
	"golang.org/x/xerrors"
)

// feed is the NVD 1.1 JSON envelope. Every field except the CVE ID is
// optional; sub-models are pointers so that absence is distinguishable
// from a zeroed block.
type feed struct {
	CVEItems []feedItem `json:"CVE_Items"`
}

type feedItem struct {
	CVE struct {
		CVEDataMeta struct {
			ID string `json:"ID"`
		} `json:"CVE_data_meta"`
		Description struct {
			DescriptionData []langString `json:"description_data"`
		} `json:"description"`
	} `json:"cve"`
	Impact struct {
		BaseMetricV2 *struct {
			CVSSV2 *cvssData `json:"cvssV2"`
		} `json:"baseMetricV2"`
		BaseMetricV3 *struct {
			CVSSV3 *cvssData `json:"cvssV3"`
		} `json:"baseMetricV3"`
	} `json:"impact"`
	PublishedDate    string `json:"publishedDate"`
	LastModifiedDate string `json:"lastModifiedDate"`
}

type langString struct {
	Lang  string `json:"lang"`
	Value string `json:"value"`
}

type cvssData struct {
	BaseScore    *float64 `json:"baseScore"`
	VectorString string   `json:"vectorString"`
}

var gzipMagic = []byte{0x1f, 0x8b}

// Parse decodes a feed file into normalized records. It accepts both
// gzip-compressed and plain JSON input. Entries without a well-formed
// CVE ID are skipped and returned in the malformed count; a single bad
// entry never fails the whole feed.
func Parse(raw []byte) ([]Record, int, error) {
	data, err := decompress(raw)
	if err != nil {
		return nil, 0, xerrors.Errorf("failed to decompress feed: %w", err)
	}

	var f feed
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, 0, xerrors.Errorf("failed to decode feed JSON: %w", err)
	}

	var records []Record
	var malformed int
	for _, item := range f.CVEItems {
		record, ok := newRecord(item)
		if !ok {
			malformed++
			continue
		}
		records = append(records, record)
	}
	return records, malformed, nil
}

func decompress(raw []byte) ([]byte, error) {
	if !bytes.HasPrefix(raw, gzipMagic) {
		return raw, nil
	}
	gr, err := gzip.NewReader(bytes.NewReader(raw))
	if err != nil {
		return nil, xerrors.Errorf("failed to create gzip reader: %w", err)
	}
	defer gr.Close()

	data, err := io.ReadAll(gr)
	if err != nil {
		return nil, xerrors.Errorf("failed to read gzip stream: %w", err)
	}
	return data, nil
}

func newRecord(item feedItem) (Record, bool) {
	cveID := item.CVE.CVEDataMeta.ID
	year, ok := YearFromID(cveID)
	if !ok {
		return Record{}, false
	}

	var description string
	if len(item.CVE.Description.DescriptionData) > 0 {
		description = item.CVE.Description.DescriptionData[0].Value
	}

	record := Record{
		ID:          cveID,
		Year:        year,
		Description: description,
		Type:        classifyType(description),
	}

	// NVD timestamps come in slightly different shapes across feed
	// generations, e.g. "2006-01-02T15:04Z" and "2006-01-02T15:04:05".
	if t, err := dateparse.ParseAny(item.PublishedDate); err == nil {
		record.PublishedDate = t
	}
	if t, err := dateparse.ParseAny(item.LastModifiedDate); err == nil {
		record.LastModifiedDate = t
	}

	// A block without a base score yields no metric. A present v2
	// score of 0.0 is still a real LOW score.
	if v2 := item.Impact.BaseMetricV2; v2 != nil && v2.CVSSV2 != nil && v2.CVSSV2.BaseScore != nil {
		record.CVSSV2 = &Metric{
			BaseScore: *v2.CVSSV2.BaseScore,
			Severity:  v2Severity(*v2.CVSSV2.BaseScore),
			Vector:    v2.CVSSV2.VectorString,
		}
	}
	// A v3 base score of exactly 0.0 carries no severity and is
	// treated the same as an absent score.
	if v3 := item.Impact.BaseMetricV3; v3 != nil && v3.CVSSV3 != nil && v3.CVSSV3.BaseScore != nil && *v3.CVSSV3.BaseScore != 0 {
		record.CVSSV3 = &Metric{
			BaseScore: *v3.CVSSV3.BaseScore,
			Severity:  v3Severity(*v3.CVSSV3.BaseScore),
			Vector:    v3.CVSSV3.VectorString,
		}
	}

	return record, true
}
