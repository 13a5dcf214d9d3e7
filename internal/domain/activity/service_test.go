package activity_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/tracceaqua/tracceaqua/internal/domain/activity"
	"github.com/tracceaqua/tracceaqua/internal/repository/mocks"
)

func TestActivityService_LogAndList(t *testing.T) {
	ctx := context.Background()
	recordID := "rec-1"

	repo := &mocks.ActivityRepository{}
	entry := &activity.ActivityEntry{
		RecordID:     &recordID,
		ActorID:      "farmer-1",
		ActivityType: activity.TypeRecordCreated,
		Summary:      "created",
	}

	repo.On("Log", ctx, entry).Return(nil)
	repo.On("List", ctx, activity.ListActivityOptions{RecordID: &recordID, Limit: 50}).Return([]activity.ActivityEntry{*entry}, nil)

	svc := activity.NewService(repo, nil)
	require.NoError(t, svc.LogActivity(ctx, entry))
	require.False(t, entry.CreatedAt.IsZero())

	entries, err := svc.ForRecord(ctx, recordID, 0)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	repo.AssertExpectations(t)
}

func TestActivityService_LogRejectsEmptyType(t *testing.T) {
	repo := &mocks.ActivityRepository{}
	svc := activity.NewService(repo, nil)

	err := svc.LogActivity(context.Background(), &activity.ActivityEntry{Summary: "nothing"})
	require.ErrorIs(t, err, activity.ErrInvalidInput)
	repo.AssertNotCalled(t, "Log", mock.Anything, mock.Anything)
}
