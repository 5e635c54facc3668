package system

import (
	"runtime"
	"time"
)

// Info is the process snapshot shown by the admin health endpoint.
type Info struct {
	OS         string `json:"os"`
	Arch       string `json:"arch"`
	GoVersion  string `json:"go_version"`
	Goroutines int    `json:"goroutines"`
	HeapMB     uint64 `json:"heap_mb"`
	SysMB      uint64 `json:"sys_mb"`
	Uptime     string `json:"uptime"`
}

func Collect(started time.Time) Info {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	return Info{
		OS:         runtime.GOOS,
		Arch:       runtime.GOARCH,
		GoVersion:  runtime.Version(),
		Goroutines: runtime.NumGoroutine(),
		HeapMB:     bToMb(m.HeapAlloc),
		SysMB:      bToMb(m.Sys),
		Uptime:     time.Since(started).Round(time.Second).String(),
	}
}
