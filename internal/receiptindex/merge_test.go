package receiptindex

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kira-app/kira/pkg/decimal"
)

func amount(t *testing.T, s string) decimal.Money {
	t.Helper()

	m, err := decimal.Parse(s)
	require.NoError(t, err)

	return m
}

func TestMergeDayDisjointEntriesKept(t *testing.T) {
	t.Parallel()

	local := &DayIndex{Date: "2025-06-14", SchemaVersion: 1, LastUpdated: "2025-06-14T09:00:00Z", Receipts: []Entry{
		{ReceiptID: "r1", Filename: "2025-06-14_1.jpg", CapturedAt: "2025-06-14T08:00:00-04:00", UpdatedAt: "2025-06-14T09:00:00Z"},
	}}
	remote := &DayIndex{Date: "2025-06-14", SchemaVersion: 1, LastUpdated: "2025-06-14T10:00:00Z", Receipts: []Entry{
		{ReceiptID: "r2", Filename: "2025-06-14_2.jpg", CapturedAt: "2025-06-14T08:30:00-04:00", UpdatedAt: "2025-06-14T10:00:00Z"},
	}}

	merged := MergeDay(local, remote)
	require.Len(t, merged.Receipts, 2)
	assert.Equal(t, "2025-06-14T10:00:00Z", merged.LastUpdated)
}

func TestMergeDayConflictingAmountPicksLaterUpdatedAt(t *testing.T) {
	t.Parallel()

	local := &DayIndex{Date: "2025-06-14", SchemaVersion: 1, LastUpdated: "2025-06-14T09:00:00Z", Receipts: []Entry{
		{ReceiptID: "r1", Filename: "2025-06-14_1.jpg", AmountTracked: amount(t, "25.00"),
			CurrencyCode: "CAD", CapturedAt: "2025-06-14T08:00:00-04:00", UpdatedAt: "2025-06-14T09:00:00Z"},
	}}
	remote := &DayIndex{Date: "2025-06-14", SchemaVersion: 1, LastUpdated: "2025-06-14T12:00:00Z", Receipts: []Entry{
		{ReceiptID: "r1", Filename: "2025-06-14_1.jpg", AmountTracked: amount(t, "30.00"),
			CurrencyCode: "CAD", CapturedAt: "2025-06-14T08:00:00-04:00", UpdatedAt: "2025-06-14T12:00:00Z"},
	}}

	merged := MergeDay(local, remote)
	require.Len(t, merged.Receipts, 1)
	assert.Equal(t, amount(t, "30.00"), merged.Receipts[0].AmountTracked)
	assert.True(t, merged.Receipts[0].Conflict)
}

func TestMergeDayEqualEntriesKeepLocalAndPreserveConflict(t *testing.T) {
	t.Parallel()

	e := Entry{ReceiptID: "r1", Filename: "2025-06-14_1.jpg", AmountTracked: amount(t, "10.00"),
		CurrencyCode: "CAD", CapturedAt: "2025-06-14T08:00:00-04:00", UpdatedAt: "2025-06-14T09:00:00Z", Conflict: true}
	localEntry := e
	remoteEntry := e
	remoteEntry.UpdatedAt = "2025-06-14T10:00:00Z" // metadata-only difference
	remoteEntry.Conflict = false

	local := &DayIndex{Date: "2025-06-14", Receipts: []Entry{localEntry}}
	remote := &DayIndex{Date: "2025-06-14", Receipts: []Entry{remoteEntry}}

	merged := MergeDay(local, remote)
	require.Len(t, merged.Receipts, 1)
	assert.Equal(t, localEntry.UpdatedAt, merged.Receipts[0].UpdatedAt)
	assert.True(t, merged.Receipts[0].Conflict)
}

func TestMergeDayTieBreaksOnReceiptID(t *testing.T) {
	t.Parallel()

	local := &DayIndex{Receipts: []Entry{
		{ReceiptID: "zzz", AmountTracked: amount(t, "1.00"), CapturedAt: "2025-06-14T08:00:00Z", UpdatedAt: "2025-06-14T09:00:00Z"},
	}}
	remote := &DayIndex{Receipts: []Entry{
		{ReceiptID: "aaa", AmountTracked: amount(t, "2.00"), CapturedAt: "2025-06-14T08:00:00Z", UpdatedAt: "2025-06-14T09:00:00Z"},
	}}

	// Same UpdatedAt, different ReceiptID is actually a different receipt_id
	// so this exercises the disjoint path; use identical ReceiptID instead.
	local.Receipts[0].ReceiptID = "r1"
	remote.Receipts[0].ReceiptID = "r1"

	merged := MergeDay(local, remote)
	require.Len(t, merged.Receipts, 1)
	// Tie on UpdatedAt: lexicographically smaller ReceiptID wins, but both
	// sides already share "r1" — remote's ID is not smaller, so local keeps
	// priority and its amount wins; the differing amounts mark a conflict.
	assert.True(t, merged.Receipts[0].Conflict)
}

func TestMergeNeverDecreasesEntryCount(t *testing.T) {
	t.Parallel()

	local := &DayIndex{Receipts: []Entry{
		{ReceiptID: "r1", CapturedAt: "2025-06-14T08:00:00Z", UpdatedAt: "t1"},
		{ReceiptID: "r2", CapturedAt: "2025-06-14T08:05:00Z", UpdatedAt: "t1"},
	}}
	remote := &DayIndex{Receipts: []Entry{
		{ReceiptID: "r1", CapturedAt: "2025-06-14T08:00:00Z", UpdatedAt: "t1"},
	}}

	merged := MergeDay(local, remote)
	assert.GreaterOrEqual(t, len(merged.Receipts), len(local.Receipts))
	assert.GreaterOrEqual(t, len(merged.Receipts), len(remote.Receipts))
}

func TestMergeIdempotent(t *testing.T) {
	t.Parallel()

	idx := &DayIndex{Date: "2025-06-14", SchemaVersion: 1, LastUpdated: "t1", Receipts: []Entry{
		{ReceiptID: "r1", CapturedAt: "2025-06-14T08:00:00Z", UpdatedAt: "t1"},
		{ReceiptID: "r2", CapturedAt: "2025-06-14T08:05:00Z", UpdatedAt: "t1"},
	}}

	merged := MergeDay(idx, idx)
	assert.Equal(t, idx.Receipts, merged.Receipts)
}

func TestMergeCommutativeUpToConflict(t *testing.T) {
	t.Parallel()

	a := &DayIndex{Receipts: []Entry{
		{ReceiptID: "r1", AmountTracked: amount(t, "1.00"), CapturedAt: "c1", UpdatedAt: "2025-01-01T00:00:00Z"},
	}}
	b := &DayIndex{Receipts: []Entry{
		{ReceiptID: "r1", AmountTracked: amount(t, "2.00"), CapturedAt: "c1", UpdatedAt: "2025-01-02T00:00:00Z"},
	}}

	ab := MergeDay(a, b)
	ba := MergeDay(b, a)

	require.Len(t, ab.Receipts, 1)
	require.Len(t, ba.Receipts, 1)
	assert.Equal(t, ab.Receipts[0].AmountTracked, ba.Receipts[0].AmountTracked)
	assert.True(t, ab.Receipts[0].Conflict)
	assert.True(t, ba.Receipts[0].Conflict)
}

func TestAddReceiptNoOpIfPresent(t *testing.T) {
	t.Parallel()

	idx := &DayIndex{Date: "2025-06-14", Receipts: []Entry{
		{ReceiptID: "r1", CapturedAt: "2025-06-14T08:00:00Z"},
	}}

	r := Entry{ReceiptID: "r1", CapturedAt: "2025-06-14T09:00:00Z"}
	out := AddReceipt(idx, r, "now")

	require.Len(t, out.Receipts, 1)
	assert.Equal(t, "2025-06-14T08:00:00Z", out.Receipts[0].CapturedAt)
}

func TestAddReceiptAppendsAndSorts(t *testing.T) {
	t.Parallel()

	idx := &DayIndex{Date: "2025-06-14", Receipts: []Entry{
		{ReceiptID: "r1", CapturedAt: "2025-06-14T10:00:00Z"},
	}}

	r := Entry{ReceiptID: "r2", CapturedAt: "2025-06-14T08:00:00Z"}
	out := AddReceipt(idx, r, "2025-06-14T11:00:00Z")

	require.Len(t, out.Receipts, 2)
	assert.Equal(t, "r2", out.Receipts[0].ReceiptID)
	assert.Equal(t, "2025-06-14T11:00:00Z", out.LastUpdated)
}

func TestRoundTripJSONPreservesConflictAndSupersedes(t *testing.T) {
	t.Parallel()

	old := "2025-06-14_1.jpg"
	e := Entry{
		ReceiptID: "r1", Filename: "2025-06-14_2.jpg", AmountTracked: amount(t, "5.00"),
		CurrencyCode: "CAD", Category: "meals", ChecksumSHA256: "deadbeef",
		CapturedAt: "2025-06-14T08:00:00-04:00", UpdatedAt: "2025-06-14T09:00:00Z",
		Conflict: true, SupersedesFilename: &old,
	}

	idx := &DayIndex{Date: "2025-06-14", SchemaVersion: 1, LastUpdated: "now", Receipts: []Entry{e}}

	data, err := marshalIndex(idx)
	require.NoError(t, err)

	back, err := unmarshalIndex(data)
	require.NoError(t, err)

	require.Len(t, back.Receipts, 1)
	assert.Equal(t, e.Conflict, back.Receipts[0].Conflict)
	require.NotNil(t, back.Receipts[0].SupersedesFilename)
	assert.Equal(t, *e.SupersedesFilename, *back.Receipts[0].SupersedesFilename)
}
