package peersmgr

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.etcd.io/bbolt"
)

func TestLoadFromEmptyStorage(t *testing.T) {
	t.Parallel()

	db, err := bbolt.Open(filepath.Join(t.TempDir(), "peers.bbolt"), 0o600, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	svc, err := New(nil, db)
	require.NoError(t, err)
	assert.NotNil(t, svc.Store())

	n, err := svc.LoadFromStorage(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)

	_, err = New(nil, nil)
	assert.Error(t, err)
}
