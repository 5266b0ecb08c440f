package filter

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/couchbase/dcpconnmgr/dcp"
)

func TestEmptyFilterAdmitsNothing(t *testing.T) {
	f := New()
	require.True(t, f.Empty())
	require.False(t, f.Admits(0))
	require.False(t, f.Admits(1))
}

func TestAdmitsOnlyConfiguredVBuckets(t *testing.T) {
	f := New(1, 3, 5)
	require.True(t, f.Admits(1))
	require.True(t, f.Admits(3))
	require.True(t, f.Admits(5))
	require.False(t, f.Admits(2))
	require.False(t, f.Admits(4))
}

func TestAddRemove(t *testing.T) {
	f := New()
	f.Add(7)
	require.True(t, f.Admits(7))
	f.Remove(7)
	require.False(t, f.Admits(7))
	require.True(t, f.Empty())
}

func TestSetReplacesContents(t *testing.T) {
	f := New(1, 2, 3)
	f.Set([]dcp.VBucketID{9})
	require.False(t, f.Admits(1))
	require.True(t, f.Admits(9))
}

func TestVBucketsSorted(t *testing.T) {
	f := New(5, 1, 3)
	require.Equal(t, []dcp.VBucketID{1, 3, 5}, f.VBuckets())
}

func TestString(t *testing.T) {
	f := New(2, 1)
	require.Equal(t, "{1,2}", f.String())
}
