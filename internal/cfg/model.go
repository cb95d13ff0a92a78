package cfg

import (
	"time"

	"github.com/caarlos0/env/v11"
)

type Config struct {
	Image           string        `env:"RAMDUMP_IMAGE"`
	Profile         string        `env:"RAMDUMP_PROFILE"`
	CacheDir        string        `env:"RAMDUMP_CACHE_DIR"         envDefault:"/tmp/ramdump"`
	Workers         int           `env:"RAMDUMP_WORKERS"           envDefault:"8"`
	MaxListSteps    int           `env:"RAMDUMP_MAX_LIST_STEPS"    envDefault:"4096"`
	SectionCacheTTL time.Duration `env:"RAMDUMP_SECTION_CACHE_TTL" envDefault:"10m"`
	Debug           bool          `env:"RAMDUMP_DEBUG"`

	// OtelCollectorGRPCEndpoint enables OTLP export of metrics, spans and logs.
	OtelCollectorGRPCEndpoint string `env:"OTEL_COLLECTOR_GRPC_ENDPOINT"`

	// DownloadDir keeps captures fetched from a bucket.
	DownloadDir string `env:"RAMDUMP_DOWNLOAD_DIR,expand" envDefault:"${RAMDUMP_CACHE_DIR}/captures"`
	// ScratchDir keeps decompressed captures while they are mapped.
	ScratchDir string `env:"RAMDUMP_SCRATCH_DIR,expand" envDefault:"${RAMDUMP_CACHE_DIR}/scratch"`
}

func Parse() (Config, error) {
	return env.ParseAs[Config]()
}
