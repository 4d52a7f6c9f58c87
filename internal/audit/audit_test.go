package audit

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewEntry(t *testing.T) {
	e := NewEntry(ActionEscrowReleased, "adm_1", "sub_order", "sub_1", map[string]any{
		"released": int64(10200),
	})

	assert.True(t, strings.HasPrefix(e.ID, "aud_"))
	assert.Equal(t, ActionEscrowReleased, e.Action)
	assert.Equal(t, "adm_1", e.ActorID)
	assert.Equal(t, "sub_order", e.TargetType)
	assert.Equal(t, "sub_1", e.TargetID)
	assert.Equal(t, int64(10200), e.Details["released"])
	assert.False(t, e.CreatedAt.IsZero())
}

func TestMemorySink_ListFiltersAndOrder(t *testing.T) {
	ctx := context.Background()
	sink := NewMemorySink()

	require.NoError(t, sink.Record(ctx, NewEntry(ActionEscrowReleased, "adm_1", "sub_order", "sub_1", nil)))
	require.NoError(t, sink.Record(ctx, NewEntry(ActionEscrowReversed, "adm_2", "fund_release", "fr_1", nil)))
	require.NoError(t, sink.Record(ctx, NewEntry(ActionEscrowReleased, "adm_1", "sub_order", "sub_2", nil)))

	all, err := sink.List(ctx, Query{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	// Newest first
	assert.Equal(t, "sub_2", all[0].TargetID)
	assert.Equal(t, "fr_1", all[1].TargetID)
	assert.Equal(t, "sub_1", all[2].TargetID)

	byAction, err := sink.List(ctx, Query{Action: ActionEscrowReleased})
	require.NoError(t, err)
	require.Len(t, byAction, 2)

	byActor, err := sink.List(ctx, Query{ActorID: "adm_2"})
	require.NoError(t, err)
	require.Len(t, byActor, 1)
	assert.Equal(t, ActionEscrowReversed, byActor[0].Action)

	byTarget, err := sink.List(ctx, Query{TargetID: "sub_1"})
	require.NoError(t, err)
	require.Len(t, byTarget, 1)

	limited, err := sink.List(ctx, Query{Limit: 2})
	require.NoError(t, err)
	require.Len(t, limited, 2)
	assert.Equal(t, "sub_2", limited[0].TargetID)
}
