package persistence

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func TestSnapshotStoreIntegration(t *testing.T) {
	t.Parallel()

	pool := newTestPool(t)
	ctx := context.Background()

	lotStore, err := NewLotStore(pool)
	require.NoError(t, err)
	store, err := NewSnapshotStore(pool)
	require.NoError(t, err)

	lot, err := lotStore.CreateLot(ctx, CreateLotParams{
		LotID:          uuid.New(),
		Identification: "L-2025-020",
		InitialCount:   50,
	})
	require.NoError(t, err)

	data := json.RawMessage(`{"lote":{"id":"` + lot.LotID.String() + `"},"phases":[]}`)
	snapshotID := uuid.New()

	rec, err := store.CreateSnapshot(ctx, CreateSnapshotParams{
		SnapshotID:  snapshotID,
		LotID:       lot.LotID,
		PublicToken: "aaaa1111",
		Data:        data,
	})
	require.NoError(t, err)
	require.True(t, rec.IsActive)
	require.Zero(t, rec.ScanCount)
	require.JSONEq(t, string(data), string(rec.Data))

	// resolving increments the scan counter
	resolved, err := store.ResolveByToken(ctx, "aaaa1111")
	require.NoError(t, err)
	require.Equal(t, snapshotID, resolved.SnapshotID)
	require.EqualValues(t, 1, resolved.ScanCount)

	resolved, err = store.ResolveByToken(ctx, "aaaa1111")
	require.NoError(t, err)
	require.EqualValues(t, 2, resolved.ScanCount)

	_, err = store.ResolveByToken(ctx, "nope")
	require.ErrorIs(t, err, ErrSnapshotNotFound)

	// rotation invalidates the old token and keeps the frozen data
	rotated, err := store.RotateToken(ctx, snapshotID, "bbbb2222")
	require.NoError(t, err)
	require.Equal(t, "bbbb2222", rotated.PublicToken)
	require.JSONEq(t, string(data), string(rotated.Data))

	_, err = store.ResolveByToken(ctx, "aaaa1111")
	require.ErrorIs(t, err, ErrSnapshotNotFound)

	_, err = store.ResolveByToken(ctx, "bbbb2222")
	require.NoError(t, err)

	// revocation is permanent and distinguishable from an unknown token
	require.NoError(t, store.Revoke(ctx, snapshotID))

	_, err = store.ResolveByToken(ctx, "bbbb2222")
	require.ErrorIs(t, err, ErrSnapshotRevoked)

	_, err = store.RotateToken(ctx, snapshotID, "cccc3333")
	require.ErrorIs(t, err, ErrSnapshotRevoked)

	// revoking again is a no-op, revoking a missing id is not found
	require.NoError(t, store.Revoke(ctx, snapshotID))
	require.ErrorIs(t, store.Revoke(ctx, uuid.New()), ErrSnapshotNotFound)

	// a lot keeps every snapshot generated for it
	second, err := store.CreateSnapshot(ctx, CreateSnapshotParams{
		SnapshotID:  uuid.New(),
		LotID:       lot.LotID,
		PublicToken: "dddd4444",
		Data:        data,
	})
	require.NoError(t, err)

	all, err := store.ListByLot(ctx, lot.LotID)
	require.NoError(t, err)
	require.Len(t, all, 2)
	require.Equal(t, second.SnapshotID, all[0].SnapshotID)

	got, err := store.GetSnapshot(ctx, snapshotID)
	require.NoError(t, err)
	require.False(t, got.IsActive)
}
