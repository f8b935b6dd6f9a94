//go:build govips && cgo

package imageprep

import (
	"sync"

	"github.com/davidbyttow/govips/v2/vips"
)

var (
	startupMu sync.Mutex
	started   bool
	stopped   bool
)

// Startup initialises libvips once per process. Later calls, including calls
// after Shutdown, are no-ops; libvips cannot be initialised again once shut
// down.
func Startup() error {
	startupMu.Lock()
	defer startupMu.Unlock()
	if started || stopped {
		return nil
	}

	vips.LoggingSettings(nil, vips.LogLevelWarning)
	vips.Startup(&vips.Config{
		MaxCacheFiles: 0,
		MaxCacheMem:   128 * 1024 * 1024,
		MaxCacheSize:  100,
	})
	started = true
	return nil
}

func Shutdown() {
	startupMu.Lock()
	defer startupMu.Unlock()
	if !started {
		return
	}
	vips.Shutdown()
	started = false
	stopped = true
}

func newCodec() Codec {
	return govipsCodec{}
}
