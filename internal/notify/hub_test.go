package notify

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHubPublishSyncProgressNotifiesSubscribers(t *testing.T) {
	t.Parallel()

	hub := NewHub()

	var got []SyncProgress

	hub.OnSyncProgress(func(p SyncProgress) { got = append(got, p) })

	hub.PublishSyncProgress(SyncProgress{Status: "syncing", Fraction: 0.5})
	hub.PublishSyncProgress(SyncProgress{Status: "idle", Fraction: 1})

	assert.Equal(t, []SyncProgress{
		{Status: "syncing", Fraction: 0.5},
		{Status: "idle", Fraction: 1},
	}, got)
}

func TestHubPublishBackfillProgressNotifiesMultipleSubscribers(t *testing.T) {
	t.Parallel()

	hub := NewHub()

	var a, b []BackfillProgress

	hub.OnBackfillProgress(func(p BackfillProgress) { a = append(a, p) })
	hub.OnBackfillProgress(func(p BackfillProgress) { b = append(b, p) })

	hub.PublishBackfillProgress(BackfillProgress{Current: 1, Total: 2, CurrentFilename: "x.jpg"})

	assert.Len(t, a, 1)
	assert.Len(t, b, 1)
}

func TestHubPublishAlertAddedCarriesFields(t *testing.T) {
	t.Parallel()

	hub := NewHub()

	var got AlertAdded

	hub.OnAlertAdded(func(a AlertAdded) { got = a })

	hub.PublishAlertAdded(AlertAdded{AlertType: "orphan_file", Severity: "warning", FilePath: "/x.jpg"})

	assert.Equal(t, "orphan_file", got.AlertType)
	assert.Equal(t, "warning", got.Severity)
}

func TestHubPublishWithNoSubscribersDoesNotPanic(t *testing.T) {
	t.Parallel()

	hub := NewHub()

	assert.NotPanics(t, func() {
		hub.PublishSyncProgress(SyncProgress{Status: "error", Err: errors.New("boom")})
	})
}
