package bridge

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestByteQueue(t *testing.T) {
	q := newByteQueue(8)
	require.Equal(t, 5, q.Put([]byte("hello")))
	require.Equal(t, 3, q.Put([]byte("world")))
	require.Equal(t, 8, q.Used())

	buf := make([]byte, 4)
	require.Equal(t, 4, q.Get(buf))
	require.Equal(t, "hell", string(buf))

	// wraps around
	require.Equal(t, 4, q.Put([]byte("!!!!?")))
	out := make([]byte, 16)
	n := q.Get(out)
	require.Equal(t, "owor!!!!", string(out[:n]))
	require.Zero(t, q.Get(out))

	q.Put([]byte("abc"))
	require.Equal(t, 3, q.Reset())
	require.Zero(t, q.Used())
	require.Equal(t, 2, q.Put([]byte("xy")))
	n = q.Get(out)
	require.Equal(t, "xy", string(out[:n]))
}
