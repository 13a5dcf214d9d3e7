package access_test

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tracceaqua/tracceaqua/internal/access"
	"github.com/tracceaqua/tracceaqua/internal/domain/record"
	"github.com/tracceaqua/tracceaqua/internal/repository"
)

func TestKeyService_IssueRejectsBadInput(t *testing.T) {
	keys := access.NewKeyService(nil, nil, nil)

	_, _, err := keys.Issue(context.Background(), "  ", record.RoleFisher, "")
	require.ErrorIs(t, err, repository.ErrInvalidInput)

	_, _, err = keys.Issue(context.Background(), "fisher-1", record.Role("CAPTAIN"), "")
	require.ErrorIs(t, err, repository.ErrInvalidInput)
}

func TestKeyService_ResolveEmptyToken(t *testing.T) {
	keys := access.NewKeyService(nil, nil, nil)
	_, err := keys.ResolveActor(context.Background(), " ")
	require.ErrorIs(t, err, access.ErrInvalidKey)
}

func TestHashToken(t *testing.T) {
	h := access.HashToken("ta_secret")
	require.Len(t, h, 64)
	require.Equal(t, h, access.HashToken("ta_secret"))
	require.NotEqual(t, h, access.HashToken("ta_other"))
	require.False(t, strings.Contains(h, "secret"))
}
