// Package receiptindex implements the day/month index data model and its
// canonical merge algorithm (spec §4.3/§4.4): the projection of Receipts
// that is mirrored to both the local disk and every linked storage
// provider as index.json.
package receiptindex

import (
	"encoding/json"
	"fmt"

	"github.com/kira-app/kira/pkg/decimal"
)

// CurrentSchemaVersion is the schema_version written by this build. Merge
// always keeps the higher of two schema_version values, so older on-disk
// indexes are never downgraded.
const CurrentSchemaVersion = 1

// knownEntryFields lists the JSON keys handled explicitly by Entry, used to
// split a raw decode into known vs. unknown fields for schema_version
// forward-compatibility (spec §9: "unknown fields tolerated").
var knownEntryFields = map[string]bool{
	"receipt_id":           true,
	"filename":             true,
	"amount_tracked":       true,
	"currency_code":        true,
	"category":             true,
	"checksum_sha256":      true,
	"captured_at":          true,
	"updated_at":           true,
	"conflict":             true,
	"supersedes_filename":  true,
}

// Entry is the lightweight projection of a Receipt stored in a Day Index.
// It is created once from a Receipt at index-build time and thereafter only
// ever updated through Merge/AddReceipt — never edited in place.
type Entry struct {
	ReceiptID           string        `json:"receipt_id"`
	Filename            string        `json:"filename"`
	AmountTracked       decimal.Money `json:"amount_tracked"`
	CurrencyCode        string        `json:"currency_code"`
	Category            string        `json:"category"`
	ChecksumSHA256      string        `json:"checksum_sha256"`
	CapturedAt          string        `json:"captured_at"` // ISO-8601
	UpdatedAt           string        `json:"updated_at"`  // UTC ISO-8601
	Conflict            bool          `json:"conflict"`
	SupersedesFilename  *string       `json:"supersedes_filename"`

	// Unknown carries forward any JSON object members this build does not
	// recognize, so a newer schema_version's fields round-trip through an
	// older reader untouched instead of being silently dropped.
	Unknown map[string]json.RawMessage `json:"-"`
}

// entryAlias avoids infinite recursion in Entry's custom (Un)MarshalJSON.
type entryAlias Entry

// MarshalJSON emits the known fields plus any passed-through unknown ones.
func (e Entry) MarshalJSON() ([]byte, error) {
	known, err := json.Marshal(entryAlias(e))
	if err != nil {
		return nil, fmt.Errorf("receiptindex: marshaling entry: %w", err)
	}

	if len(e.Unknown) == 0 {
		return known, nil
	}

	merged := map[string]json.RawMessage{}

	var knownMap map[string]json.RawMessage
	if err := json.Unmarshal(known, &knownMap); err != nil {
		return nil, fmt.Errorf("receiptindex: re-decoding known entry fields: %w", err)
	}

	for k, v := range knownMap {
		merged[k] = v
	}

	for k, v := range e.Unknown {
		if !knownEntryFields[k] {
			merged[k] = v
		}
	}

	out, err := json.Marshal(merged)
	if err != nil {
		return nil, fmt.Errorf("receiptindex: marshaling merged entry: %w", err)
	}

	return out, nil
}

// UnmarshalJSON decodes known fields into Entry and stashes everything else
// in Unknown.
func (e *Entry) UnmarshalJSON(data []byte) error {
	var alias entryAlias
	if err := json.Unmarshal(data, &alias); err != nil {
		return fmt.Errorf("receiptindex: unmarshaling entry: %w", err)
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("receiptindex: unmarshaling entry raw fields: %w", err)
	}

	unknown := map[string]json.RawMessage{}

	for k, v := range raw {
		if !knownEntryFields[k] {
			unknown[k] = v
		}
	}

	*e = Entry(alias)
	e.Unknown = unknown

	return nil
}

// DayIndex is the per-calendar-day document: ordered Entries sorted by
// CapturedAt, at most one Entry per ReceiptID.
type DayIndex struct {
	Date          string  `json:"date"`
	SchemaVersion int     `json:"schema_version"`
	LastUpdated   string  `json:"last_updated"`
	Receipts      []Entry `json:"receipts"`
}

// DaySummary is one row of a Month Index, recomputed from a DayIndex.
type DaySummary struct {
	Date            string                   `json:"date"`
	ReceiptCount    int                      `json:"receipt_count"`
	TotalByCurrency map[string]decimal.Money `json:"total_by_currency"`
	LastUpdated     string                   `json:"last_updated"`
	Conflict        bool                     `json:"conflict"`
}

// MonthIndex is the per-calendar-month document: ordered DaySummaries sorted
// by Date.
type MonthIndex struct {
	YearMonth     string       `json:"year_month"`
	SchemaVersion int          `json:"schema_version"`
	LastUpdated   string       `json:"last_updated"`
	Days          []DaySummary `json:"days"`
}

// NewDayIndex returns an empty DayIndex for date, stamped with the current
// schema version.
func NewDayIndex(date, now string) *DayIndex {
	return &DayIndex{
		Date:          date,
		SchemaVersion: CurrentSchemaVersion,
		LastUpdated:   now,
		Receipts:      nil,
	}
}

// NewMonthIndex returns an empty MonthIndex for yearMonth.
func NewMonthIndex(yearMonth, now string) *MonthIndex {
	return &MonthIndex{
		YearMonth:     yearMonth,
		SchemaVersion: CurrentSchemaVersion,
		LastUpdated:   now,
		Days:          nil,
	}
}

// DaySummaryFromIndex recomputes a DaySummary from a DayIndex's entries.
func DaySummaryFromIndex(idx *DayIndex) DaySummary {
	totals := map[string]decimal.Money{}
	conflict := false

	for _, e := range idx.Receipts {
		totals[e.CurrencyCode] = totals[e.CurrencyCode].Add(e.AmountTracked)
		if e.Conflict {
			conflict = true
		}
	}

	return DaySummary{
		Date:            idx.Date,
		ReceiptCount:    len(idx.Receipts),
		TotalByCurrency: totals,
		LastUpdated:     idx.LastUpdated,
		Conflict:        conflict,
	}
}
