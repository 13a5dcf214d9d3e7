package sqlite

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/tracceaqua/tracceaqua/internal/domain/activity"
)

func TestActivityRepository_LogList(t *testing.T) {
	db := NewTestDB(t)
	ctx := context.Background()
	createTestRecord(t, db, "r1", "COD-001")

	repo := NewActivityRepository(db)
	recordID := "r1"
	entry1 := &activity.ActivityEntry{
		RecordID:     &recordID,
		ActorID:      "fisher-1",
		ActivityType: activity.TypeRecordCreated,
		Summary:      "Created record",
		Details:      `{"batch":"COD-001"}`,
		CreatedAt:    baseTime,
	}
	entry2 := &activity.ActivityEntry{
		RecordID:     &recordID,
		ActorID:      "processor-1",
		ActivityType: activity.TypeStageTransition,
		Summary:      "Moved to PROCESSING",
		CreatedAt:    baseTime.Add(time.Minute),
	}
	entry3 := &activity.ActivityEntry{
		ActorID:      "system",
		ActivityType: activity.TypeAnchorAbandoned,
		Summary:      "Gave up",
		CreatedAt:    baseTime.Add(2 * time.Minute),
	}

	require.NoError(t, repo.Log(ctx, entry1))
	require.NoError(t, repo.Log(ctx, entry2))
	require.NoError(t, repo.Log(ctx, entry3))
	require.NotZero(t, entry1.ID)

	entries, err := repo.List(ctx, activity.ListActivityOptions{})
	require.NoError(t, err)
	require.Len(t, entries, 3)
	require.Equal(t, activity.TypeAnchorAbandoned, entries[0].ActivityType, "newest first")
	require.Nil(t, entries[0].RecordID)

	entries, err = repo.List(ctx, activity.ListActivityOptions{RecordID: &recordID})
	require.NoError(t, err)
	require.Len(t, entries, 2)
	require.Equal(t, "r1", *entries[0].RecordID)

	typ := activity.TypeRecordCreated
	entries, err = repo.List(ctx, activity.ListActivityOptions{ActivityType: &typ})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, `{"batch":"COD-001"}`, entries[0].Details)

	entries, err = repo.List(ctx, activity.ListActivityOptions{ActorID: "processor-1"})
	require.NoError(t, err)
	require.Len(t, entries, 1)

	entries, err = repo.List(ctx, activity.ListActivityOptions{Limit: 1, Offset: 1})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, activity.TypeStageTransition, entries[0].ActivityType)
}
