package admission

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestTryAcquireRespectsMax(t *testing.T) {
	a := New(nil)
	a.UpdateMaxFromDataSize(1) // max clamps to minMax=1
	require.Equal(t, 1, a.Max())
	require.True(t, a.TryAcquire())
	require.False(t, a.TryAcquire())
	require.Equal(t, 1, a.Active())
}

func TestReleaseFreesASlot(t *testing.T) {
	a := New(nil)
	a.TryAcquire()
	a.Release()
	require.Equal(t, 0, a.Active())
	require.True(t, a.TryAcquire())
}

func TestReleaseBelowZeroIsSwallowed(t *testing.T) {
	a := New(nil)
	require.NotPanics(t, func() { a.Release() })
	require.Equal(t, 0, a.Active())
}

func TestUpdateMaxFromDataSizeClampsToRange(t *testing.T) {
	a := New(nil)

	a.UpdateMaxFromDataSize(0)
	require.Equal(t, minMax, a.Max())

	a.UpdateMaxFromDataSize(1 << 40) // enormous data size clamps to maxMax
	require.Equal(t, maxMax, a.Max())
}

func TestUpdateMaxFromDataSizeFormula(t *testing.T) {
	a := New(nil)
	// maxDataSize * 1% / 10240, e.g. 1GiB -> (1<<30)*0.01/10240 = ~1048
	a.UpdateMaxFromDataSize(1 << 30)
	require.Equal(t, 1048, a.Max())
}
