package logger

import (
	"fmt"

	"go.uber.org/zap"
)

func WithSessionID(sessionID string) zap.Field {
	return zap.String("session.id", sessionID)
}

func WithImage(path string) zap.Field {
	return zap.String("image.path", path)
}

func WithPage(page uint64) zap.Field {
	return WithAddress("page", page)
}

func WithPFN(pfn uint64) zap.Field {
	return zap.String("pfn", fmt.Sprintf("%#x", pfn))
}

// WithAddress logs an address in hex, the way it appears in symbol tables.
func WithAddress(key string, addr uint64) zap.Field {
	return zap.String(key, fmt.Sprintf("%#x", addr))
}
