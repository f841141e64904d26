package session

import (
	"context"
	"testing"

	cerrors "github.com/jllopis/conclave/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIDSet(t *testing.T) {
	s := NewIDSet("b", "a", "b", "")
	assert.Equal(t, []string{"a", "b"}, s.Slice())
	assert.True(t, s.Has("a"))
	assert.False(t, s.Has("c"))

	grown := s.With("c")
	assert.Equal(t, 2, s.Len(), "With must not mutate the receiver")
	assert.Equal(t, 3, grown.Len())
	assert.True(t, grown.Equal(NewIDSet("c", "b", "a")))
	assert.False(t, grown.Equal(s))

	var empty IDSet
	assert.Equal(t, 0, empty.Len())
	assert.Nil(t, empty.Slice())
	assert.True(t, empty.Union(s).Equal(s))
}

func TestMemoryStoreAppendOnly(t *testing.T) {
	ctx := context.Background()
	st := NewMemoryStore()

	got, err := st.Injected(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, 0, got.Len())

	require.NoError(t, st.MarkInjected(ctx, "s1", NewIDSet("x")))
	require.NoError(t, st.MarkInjected(ctx, "s1", NewIDSet("y")))
	require.NoError(t, st.MarkInjected(ctx, "s1", IDSet{}))

	got, err = st.Injected(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, []string{"x", "y"}, got.Slice())

	other, err := st.Injected(ctx, "s2")
	require.NoError(t, err)
	assert.Equal(t, 0, other.Len())

	require.NoError(t, st.Discard(ctx, "s1"))
	got, err = st.Injected(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, 0, got.Len())
}

func TestMemoryStoreRequiresSessionID(t *testing.T) {
	st := NewMemoryStore()
	_, err := st.Injected(context.Background(), "")
	assert.True(t, cerrors.IsCode(err, cerrors.CodeInvalidInput))
	err = st.MarkInjected(context.Background(), "", NewIDSet("x"))
	assert.True(t, cerrors.IsCode(err, cerrors.CodeInvalidInput))
}
