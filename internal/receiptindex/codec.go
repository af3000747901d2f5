package receiptindex

import (
	"encoding/json"
	"fmt"
)

// marshalIndex renders a DayIndex as pretty-printed UTF-8 JSON, matching the
// on-disk index.json format in spec §6.
func marshalIndex(idx *DayIndex) ([]byte, error) {
	out, err := json.MarshalIndent(idx, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("receiptindex: marshaling day index: %w", err)
	}

	return out, nil
}

// unmarshalIndex parses a day index.json document. A corrupt or malformed
// document should be treated as "none" by callers (spec §4.5/§7 CorruptIndex)
// rather than propagated as a hard failure.
func unmarshalIndex(data []byte) (*DayIndex, error) {
	var idx DayIndex
	if err := json.Unmarshal(data, &idx); err != nil {
		return nil, fmt.Errorf("receiptindex: unmarshaling day index: %w", err)
	}

	return &idx, nil
}

// MarshalDayIndex is the exported form of marshalIndex for callers outside
// the package (index service, auditor).
func MarshalDayIndex(idx *DayIndex) ([]byte, error) { return marshalIndex(idx) }

// UnmarshalDayIndex is the exported form of unmarshalIndex.
func UnmarshalDayIndex(data []byte) (*DayIndex, error) { return unmarshalIndex(data) }

// MarshalMonthIndex renders a MonthIndex as pretty-printed JSON.
func MarshalMonthIndex(idx *MonthIndex) ([]byte, error) {
	out, err := json.MarshalIndent(idx, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("receiptindex: marshaling month index: %w", err)
	}

	return out, nil
}

// UnmarshalMonthIndex parses a month index.json document.
func UnmarshalMonthIndex(data []byte) (*MonthIndex, error) {
	var idx MonthIndex
	if err := json.Unmarshal(data, &idx); err != nil {
		return nil, fmt.Errorf("receiptindex: unmarshaling month index: %w", err)
	}

	return &idx, nil
}
