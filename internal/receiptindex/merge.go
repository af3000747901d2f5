package receiptindex

import (
	"sort"
)

// MergeDay implements the canonical day-index merge algorithm (spec §4.3).
// Either argument may be nil (treated as an index with no entries); Merge
// never removes an entry, is commutative up to the conflict flag, associative,
// and idempotent (MergeDay(a, a) == a).
func MergeDay(local, remote *DayIndex) *DayIndex {
	switch {
	case local == nil && remote == nil:
		return nil
	case local == nil:
		return cloneDay(remote)
	case remote == nil:
		return cloneDay(local)
	}

	localByID := indexByID(local.Receipts)
	remoteByID := indexByID(remote.Receipts)

	merged := make(map[string]Entry, len(localByID)+len(remoteByID))

	for id, e := range localByID {
		merged[id] = e
	}

	for id, re := range remoteByID {
		le, inLocal := localByID[id]
		if !inLocal {
			merged[id] = re

			continue
		}

		merged[id] = mergeEntry(le, re)
	}

	out := &DayIndex{
		Date:          pickNonEmpty(local.Date, remote.Date),
		SchemaVersion: maxInt(local.SchemaVersion, remote.SchemaVersion),
		LastUpdated:   maxString(local.LastUpdated, remote.LastUpdated),
		Receipts:      sortedEntries(merged),
	}

	return out
}

// mergeEntry resolves a single receipt_id present on both sides. If every
// field but UpdatedAt/Conflict is equal, the local copy wins (preserving any
// existing conflict flag). Otherwise the entry with the later UpdatedAt
// wins, ties broken by the lexicographically smaller ReceiptID, and the
// winner's Conflict flag is set true.
func mergeEntry(local, remote Entry) Entry {
	if entriesEqualIgnoringMeta(local, remote) {
		winner := local
		winner.Conflict = local.Conflict || remote.Conflict

		return winner
	}

	winner := local
	if remote.UpdatedAt > local.UpdatedAt ||
		(remote.UpdatedAt == local.UpdatedAt && remote.ReceiptID < local.ReceiptID) {
		winner = remote
	}

	winner.Conflict = true

	return winner
}

// entriesEqualIgnoringMeta compares all fields except UpdatedAt and Conflict.
func entriesEqualIgnoringMeta(a, b Entry) bool {
	if a.ReceiptID != b.ReceiptID || a.Filename != b.Filename ||
		a.AmountTracked != b.AmountTracked || a.CurrencyCode != b.CurrencyCode ||
		a.Category != b.Category || a.ChecksumSHA256 != b.ChecksumSHA256 ||
		a.CapturedAt != b.CapturedAt {
		return false
	}

	return supersedesEqual(a.SupersedesFilename, b.SupersedesFilename)
}

func supersedesEqual(a, b *string) bool {
	if a == nil || b == nil {
		return a == b
	}

	return *a == *b
}

// AddReceipt appends r to idx if no entry with the same ReceiptID already
// exists; otherwise idx is returned unchanged. The result is re-sorted by
// CapturedAt and LastUpdated is stamped with now.
func AddReceipt(idx *DayIndex, r Entry, now string) *DayIndex {
	if idx == nil {
		idx = NewDayIndex(r.CapturedAt[:min(10, len(r.CapturedAt))], now)
	}

	for _, e := range idx.Receipts {
		if e.ReceiptID == r.ReceiptID {
			return idx
		}
	}

	out := cloneDay(idx)
	out.Receipts = append(out.Receipts, r)
	sortByCapturedAt(out.Receipts)
	out.LastUpdated = now

	return out
}

// MergeMonth implements the per-date month-index merge (spec §4.4): entry
// equality is (Date, ReceiptCount, TotalByCurrency); on difference the
// winner is the DaySummary belonging to the index with the later overall
// LastUpdated (an intentional simplification preserved from the source —
// see Open Question (c) — rather than per-day LastUpdated).
func MergeMonth(local, remote *MonthIndex) *MonthIndex {
	switch {
	case local == nil && remote == nil:
		return nil
	case local == nil:
		return cloneMonth(remote)
	case remote == nil:
		return cloneMonth(local)
	}

	localByDate := summariesByDate(local.Days)
	remoteByDate := summariesByDate(remote.Days)

	overallWinnerIsRemote := remote.LastUpdated > local.LastUpdated

	merged := make(map[string]DaySummary, len(localByDate)+len(remoteByDate))

	for date, s := range localByDate {
		merged[date] = s
	}

	for date, rs := range remoteByDate {
		ls, inLocal := localByDate[date]
		if !inLocal {
			merged[date] = rs

			continue
		}

		merged[date] = mergeSummary(ls, rs, overallWinnerIsRemote)
	}

	out := &MonthIndex{
		YearMonth:     pickNonEmpty(local.YearMonth, remote.YearMonth),
		SchemaVersion: maxInt(local.SchemaVersion, remote.SchemaVersion),
		LastUpdated:   maxString(local.LastUpdated, remote.LastUpdated),
		Days:          sortedSummaries(merged),
	}

	return out
}

func mergeSummary(local, remote DaySummary, remoteWinsOverall bool) DaySummary {
	if summariesEqual(local, remote) {
		winner := local
		winner.Conflict = local.Conflict || remote.Conflict

		return winner
	}

	winner := local
	if remoteWinsOverall {
		winner = remote
	}

	winner.Conflict = true

	return winner
}

func summariesEqual(a, b DaySummary) bool {
	if a.Date != b.Date || a.ReceiptCount != b.ReceiptCount {
		return false
	}

	if len(a.TotalByCurrency) != len(b.TotalByCurrency) {
		return false
	}

	for k, v := range a.TotalByCurrency {
		if bv, ok := b.TotalByCurrency[k]; !ok || bv != v {
			return false
		}
	}

	return true
}

// RecomputeMonthTotals rebuilds a MonthIndex's Days from the authoritative
// set of DayIndexes touched, per spec §4.4 "Totals on the merged month index
// are recomputed from the merged day summaries."
func RecomputeMonthTotals(month *MonthIndex, days map[string]*DayIndex, now string) *MonthIndex {
	out := cloneMonth(month)
	if out == nil {
		out = NewMonthIndex("", now)
	}

	byDate := summariesByDate(out.Days)

	for date, idx := range days {
		byDate[date] = DaySummaryFromIndex(idx)
	}

	out.Days = sortedSummaries(byDate)
	out.LastUpdated = now

	return out
}

func indexByID(entries []Entry) map[string]Entry {
	m := make(map[string]Entry, len(entries))
	for _, e := range entries {
		m[e.ReceiptID] = e
	}

	return m
}

func summariesByDate(days []DaySummary) map[string]DaySummary {
	m := make(map[string]DaySummary, len(days))
	for _, s := range days {
		m[s.Date] = s
	}

	return m
}

func sortedEntries(m map[string]Entry) []Entry {
	out := make([]Entry, 0, len(m))
	for _, e := range m {
		out = append(out, e)
	}

	sortByCapturedAt(out)

	return out
}

func sortByCapturedAt(entries []Entry) {
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].CapturedAt < entries[j].CapturedAt
	})
}

func sortedSummaries(m map[string]DaySummary) []DaySummary {
	out := make([]DaySummary, 0, len(m))
	for _, s := range m {
		out = append(out, s)
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Date < out[j].Date
	})

	return out
}

func cloneDay(idx *DayIndex) *DayIndex {
	if idx == nil {
		return nil
	}

	out := *idx
	out.Receipts = append([]Entry(nil), idx.Receipts...)

	return &out
}

func cloneMonth(idx *MonthIndex) *MonthIndex {
	if idx == nil {
		return nil
	}

	out := *idx
	out.Days = append([]DaySummary(nil), idx.Days...)

	return &out
}

func pickNonEmpty(a, b string) string {
	if a != "" {
		return a
	}

	return b
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}

	return b
}

func maxString(a, b string) string {
	if a > b {
		return a
	}

	return b
}
