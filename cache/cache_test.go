package cache_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/qseek/qseek/cache"
)

func TestDirJoinsSubsystem(t *testing.T) {
	require.Equal(t, "/tmp/qseek/layered", cache.Dir("/tmp/qseek", cache.Layered))
	require.Equal(t, "/tmp/qseek/eikonal", cache.Dir("/tmp/qseek", cache.Eikonal))
}
