package conversation_test

import (
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"goose/internal/conversation"
)

func TestRecorderAppendsInOrder(t *testing.T) {
	var log conversation.Log
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	rec := conversation.Recorder{Now: func() time.Time { return now }}

	first := rec.Record(&log, conversation.Entry{CreatorID: "u1", Type: conversation.TypeSummaryAccepted, Requirements: []string{"a"}})
	second := rec.Record(&log, conversation.Entry{CreatorID: "u1", Type: conversation.TypeStateChange, Data: "moved"})

	entries := log.Entries()
	require.Len(t, entries, 2)
	assert.Equal(t, conversation.TypeSummaryAccepted, entries[0].Type)
	assert.Equal(t, conversation.TypeStateChange, entries[1].Type)
	assert.Equal(t, now, entries[0].CreatedAt)
	assert.NotEqual(t, first.ID, second.ID)
	assert.Less(t, first.ID, second.ID)
}

func TestEntryIDsSortByCreation(t *testing.T) {
	ids := make([]string, 0, 200)
	for i := 0; i < 200; i++ {
		ids = append(ids, conversation.NewID())
	}
	assert.True(t, sort.StringsAreSorted(ids))
}

func TestEntriesAreCopies(t *testing.T) {
	var log conversation.Log
	snapshot := []string{"a", "b"}
	conversation.Recorder{}.Record(&log, conversation.Entry{Type: conversation.TypeSummaryCreated, Requirements: snapshot})
	snapshot[0] = "changed"

	entries := log.Entries()
	assert.Equal(t, []string{"a", "b"}, entries[0].Requirements)
	entries[0].Requirements[1] = "mutated"
	assert.Equal(t, []string{"a", "b"}, log.Entries()[0].Requirements)
}

func TestPendingTracksUnstoredEntries(t *testing.T) {
	log := conversation.Restore([]conversation.Entry{{ID: "1", Type: conversation.TypeMessage}})
	pos, pending := log.Pending()
	assert.Equal(t, 1, pos)
	assert.Empty(t, pending)

	clone := log.Clone()
	conversation.Recorder{}.Record(&clone, conversation.Entry{Type: conversation.TypeMessage, Data: "hi"})
	assert.Equal(t, 1, log.Len())

	pos, pending = clone.Pending()
	assert.Equal(t, 1, pos)
	require.Len(t, pending, 1)
	assert.Equal(t, "hi", pending[0].Data)

	clone.MarkStored()
	_, pending = clone.Pending()
	assert.Empty(t, pending)
}

func TestTypeValid(t *testing.T) {
	assert.True(t, conversation.TypeChildIssueRemoved.Valid())
	assert.False(t, conversation.Type("bogus").Valid())
}
