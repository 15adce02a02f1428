package sniff

type MemStats struct {
	AllocMiB      uint64 `json:"alloc_mib"`
	TotalAllocMiB uint64 `json:"total_alloc_mib"`
	SysMiB        uint64 `json:"sys_mib"`
	NumGC         uint32 `json:"num_gc"`
}

type CPUStats struct {
	NumGoroutines int   `json:"num_goroutines"`
	NumCPU        int   `json:"num_cpu"`
	NumCgoCalls   int64 `json:"num_cgo_calls"`
}

type Stats struct {
	Pid       int       `json:"pid"`
	Timestamp string    `json:"timestamp"`
	MemStats  *MemStats `json:"mem_stats"`
	CPUStats  *CPUStats `json:"cpu_stats"`
}

type ProfilingConfig struct {
	// Enabled turns periodic runtime stats capture on.
	Enabled bool
	// Interval is the capture interval (e.g. "30s").
	Interval string
	// Directory is the directory stats files are written to.
	Directory string
	// EnablePprofServer starts a pprof HTTP server alongside the capture loop.
	EnablePprofServer bool
	// PprofHost is the host for the pprof server.
	PprofHost string
	// PprofPort is the port for the pprof server.
	PprofPort int
	// MaxSize is the maximum size (in MB) of a stats file before it is rolled.
	MaxSize int64
}
