package wire

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMutationSizeNoXattrIncludeValue(t *testing.T) {
	size := MutationSize(MutationParams{
		KeySize:      3,
		Value:        []byte("hello"),
		IncludeValue: true,
	})
	require.Equal(t, uint32(mutationBaseBytes+3+5), size)
}

func TestMutationSizeExcludeValue(t *testing.T) {
	size := MutationSize(MutationParams{
		KeySize:      3,
		Value:        []byte("hello"),
		IncludeValue: false,
	})
	require.Equal(t, uint32(mutationBaseBytes+3), size)
}

func TestMutationSizeWithXattrsIncluded(t *testing.T) {
	xattrChunk := make([]byte, 4)
	binary.BigEndian.PutUint32(xattrChunk, 6)
	value := append(xattrChunk, []byte("abcdefBODY")...)

	size := MutationSize(MutationParams{
		KeySize:       3,
		Value:         value,
		DataType:      1 << 2, // mcc.XattrDataType
		IncludeValue:  true,
		IncludeXattrs: true,
	})
	require.Equal(t, uint32(mutationBaseBytes+3+len(value)+10), size)
}

func TestDeletionUsesDeletionBase(t *testing.T) {
	size := MutationSize(MutationParams{KeySize: 3, Deletion: true})
	require.Equal(t, uint32(deletionBaseBytes+3), size)
}
