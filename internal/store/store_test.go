package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSentryDBUpsertAndAll(t *testing.T) {
	ctx := context.Background()
	db, err := OpenSentryDB(filepath.Join(t.TempDir(), "sentry.db"))
	require.NoError(t, err)
	defer db.Close()

	rec := InstanceRecord{InstanceID: "p1", InstanceType: "prefill", NodeIP: "10.0.0.1", ServicePort: 9000, TPSize: 1, BaseGPUID: 0, Step: 1}
	require.NoError(t, db.Upsert(ctx, rec))

	all, err := db.All(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, rec, all[0])

	rec.ServicePort = 9100
	require.NoError(t, db.Upsert(ctx, rec))
	got, ok, err := db.Get(ctx, "p1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 9100, got.ServicePort)

	require.NoError(t, db.Delete(ctx, "p1"))
	_, ok, err = db.Get(ctx, "p1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRegistryLoadAllGroupsInstancesUnderSentry(t *testing.T) {
	ctx := context.Background()
	reg, err := OpenRegistry(filepath.Join(t.TempDir(), "ic.db"))
	require.NoError(t, err)
	defer reg.Close()

	require.NoError(t, reg.SaveSentry(ctx, "s1", "10.0.0.2", 8080))
	require.NoError(t, reg.SaveInstance(ctx, InstanceRegistration{
		SentryID: "s1", InstanceID: "p1", PodType: "prefill", ServicePort: 9000, TPSize: 1, Status: true,
	}))
	require.NoError(t, reg.SaveInstance(ctx, InstanceRegistration{
		SentryID: "s1", InstanceID: "d1", PodType: "decode", ServicePort: 9001, TPSize: 1, Status: true,
	}))

	view, err := reg.LoadAll(ctx)
	require.NoError(t, err)
	require.Contains(t, view, "s1")
	assert.Equal(t, "10.0.0.2", view["s1"].IP)
	assert.Len(t, view["s1"].Instances, 2)

	require.NoError(t, reg.SetInstanceStatus(ctx, "p1", false))
	require.NoError(t, reg.DeleteSentry(ctx, "s1"))

	view, err = reg.LoadAll(ctx)
	require.NoError(t, err)
	assert.NotContains(t, view, "s1")
}
