package system

import (
	"log/slog"
	"runtime"
)

// LogMemoryUsage logs heap figures together with any extra key/value pairs.
func LogMemoryUsage(tag string, attrs ...any) {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	slog.Info("memory usage",
		append([]any{
			"tag", tag,
			"alloc_mb", bToMb(m.Alloc),
			"sys_mb", bToMb(m.Sys),
			"num_gc", m.NumGC,
			"goroutines", runtime.NumGoroutine(),
		}, attrs...)...,
	)
}

func bToMb(b uint64) uint64 {
	return b / 1024 / 1024
}
