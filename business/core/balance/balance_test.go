package balance_test

import (
	"context"
	"testing"

	"github.com/norsh/blockchain/business/core/balance"
	"github.com/norsh/blockchain/business/sys/database"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func Test_BuildID(t *testing.T) {
	assert.Equal(t, "owner-a_elem-1", balance.BuildID("owner-a", "elem-1"))
}

func Test_SeededGet(t *testing.T) {
	ctx := context.Background()
	core := balance.NewCore(zap.NewNop().Sugar(), database.NewMemory(), decimal.NewFromInt(10_000))

	// An absent balance is synthesized with the seed amount but not persisted.
	bal, err := core.Get(ctx, "owner-a", "elem-1")
	require.NoError(t, err)
	assert.Equal(t, "owner-a_elem-1", bal.ID)
	assert.True(t, bal.Amount.Equal(decimal.NewFromInt(10_000)))

	ok, err := core.HasBalance(ctx, "owner-a", "elem-1", decimal.NewFromInt(10_000))
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = core.HasBalance(ctx, "owner-a", "elem-1", decimal.NewFromInt(10_001))
	require.NoError(t, err)
	assert.False(t, ok)
}

func Test_ZeroSeed(t *testing.T) {
	ctx := context.Background()
	core := balance.NewCore(zap.NewNop().Sugar(), database.NewMemory(), decimal.Zero)

	bal, err := core.Get(ctx, "owner-a", "elem-1")
	require.NoError(t, err)
	assert.True(t, bal.Amount.IsZero())
}

func Test_SetPersists(t *testing.T) {
	ctx := context.Background()
	core := balance.NewCore(zap.NewNop().Sugar(), database.NewMemory(), decimal.Zero)

	bal, err := core.Get(ctx, "owner-a", "elem-1")
	require.NoError(t, err)

	_, err = core.Set(ctx, bal, decimal.RequireFromString("99.5"))
	require.NoError(t, err)

	got, err := core.Get(ctx, "owner-a", "elem-1")
	require.NoError(t, err)
	assert.True(t, got.Amount.Equal(decimal.RequireFromString("99.5")))
}
