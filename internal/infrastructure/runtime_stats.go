package infrastructure

import (
	"runtime"
	"time"
)

// RuntimeStats is a snapshot of process resource usage
type RuntimeStats struct {
	Goroutines    int     `json:"goroutines"`
	HeapAlloc     uint64  `json:"heap_alloc_bytes"`
	SysMemory     uint64  `json:"sys_bytes"`
	NumGC         uint32  `json:"gc_count"`
	NumCPU        int     `json:"cpu_count"`
	UptimeSeconds float64 `json:"uptime_seconds"`
}

// CollectRuntimeStats reads the Go runtime counters
func CollectRuntimeStats(startTime time.Time) RuntimeStats {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	return RuntimeStats{
		Goroutines:    runtime.NumGoroutine(),
		HeapAlloc:     m.HeapAlloc,
		SysMemory:     m.Sys,
		NumGC:         m.NumGC,
		NumCPU:        runtime.NumCPU(),
		UptimeSeconds: time.Since(startTime).Seconds(),
	}
}
