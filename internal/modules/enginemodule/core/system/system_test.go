package system

import (
	"context"
	"runtime"
	"testing"

	"github.com/hashicorp/go-hclog"
	"github.com/stretchr/testify/assert"
)

func TestDetect(t *testing.T) {
	info := Detect(context.Background(), hclog.NewNullLogger())
	assert.Equal(t, runtime.GOOS, info.OS)
	assert.Equal(t, runtime.GOARCH, info.Arch)
	assert.GreaterOrEqual(t, info.LogicalCPUs, 1)
	assert.GreaterOrEqual(t, info.PhysicalCPUs, 1)
	assert.GreaterOrEqual(t, info.Workers(), 1)
}

func TestFeatures(t *testing.T) {
	got := features([]string{"fpu", "AVX2", "sse2", "avx2", "neon", "vme"})
	assert.Equal(t, []string{"avx2", "neon", "sse2"}, got)

	info := Info{Features: got}
	assert.True(t, info.Has("AVX2"))
	assert.False(t, info.Has("avx512f"))
}
