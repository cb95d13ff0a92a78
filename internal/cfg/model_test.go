package cfg

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	t.Run("defaults", func(t *testing.T) { //nolint:paralleltest // siblings set env, which may cause issues
		config, err := Parse()
		require.NoError(t, err)

		assert.Equal(t, "/tmp/ramdump", config.CacheDir)
		assert.Equal(t, 8, config.Workers)
		assert.Equal(t, 4096, config.MaxListSteps)
		assert.Equal(t, 10*time.Minute, config.SectionCacheTTL)
		assert.False(t, config.Debug)
		assert.Empty(t, config.Image)
	})

	t.Run("overrides", func(t *testing.T) {
		t.Setenv("RAMDUMP_IMAGE", "gs://captures/msm/ram.img.zst")
		t.Setenv("RAMDUMP_WORKERS", "2")
		t.Setenv("RAMDUMP_SECTION_CACHE_TTL", "30s")
		t.Setenv("RAMDUMP_DEBUG", "true")
		t.Setenv("OTEL_COLLECTOR_GRPC_ENDPOINT", "localhost:4317")

		config, err := Parse()
		require.NoError(t, err)

		assert.Equal(t, "localhost:4317", config.OtelCollectorGRPCEndpoint)

		assert.Equal(t, "gs://captures/msm/ram.img.zst", config.Image)
		assert.Equal(t, 2, config.Workers)
		assert.Equal(t, 30*time.Second, config.SectionCacheTTL)
		assert.True(t, config.Debug)
	})

	t.Run("dirs default under the cache dir", func(t *testing.T) { //nolint:paralleltest // siblings set env, which may cause issues
		config, err := Parse()
		require.NoError(t, err)

		assert.Equal(t, "/tmp/ramdump/captures", config.DownloadDir)
		assert.Equal(t, "/tmp/ramdump/scratch", config.ScratchDir)
	})

	t.Run("dirs follow the cache dir", func(t *testing.T) {
		t.Setenv("RAMDUMP_CACHE_DIR", "/var/cache/ramdump")

		config, err := Parse()
		require.NoError(t, err)

		assert.Equal(t, "/var/cache/ramdump/captures", config.DownloadDir)
		assert.Equal(t, "/var/cache/ramdump/scratch", config.ScratchDir)
	})

	t.Run("invalid duration", func(t *testing.T) {
		t.Setenv("RAMDUMP_SECTION_CACHE_TTL", "soon")

		_, err := Parse()
		require.Error(t, err)
	})
}
