// Package profiling serves pprof and runtime statistics. The routes expose
// goroutine stacks and memory contents, so callers mount them behind admin
// authentication.
package profiling

import (
	"encoding/json"
	"net/http"
	"net/http/pprof"
	"runtime"
	"time"

	"github.com/go-chi/chi/v5"
)

// Config holds profiling configuration
type Config struct {
	// BlockRate sets the block profiling rate (0 = disabled)
	BlockRate int

	// MutexFraction sets the mutex profiling fraction (0 = disabled)
	MutexFraction int
}

// RegisterRoutes mounts the pprof index and profiles under /pprof and the
// runtime statistics under /stats.
func RegisterRoutes(r chi.Router, config Config) {
	runtime.SetBlockProfileRate(config.BlockRate)
	runtime.SetMutexProfileFraction(config.MutexFraction)

	r.Route("/pprof", func(r chi.Router) {
		r.HandleFunc("/", pprof.Index)
		r.HandleFunc("/cmdline", pprof.Cmdline)
		r.HandleFunc("/profile", pprof.Profile)
		r.HandleFunc("/symbol", pprof.Symbol)
		r.HandleFunc("/trace", pprof.Trace)

		for _, name := range []string{"allocs", "block", "goroutine", "heap", "mutex", "threadcreate"} {
			r.Handle("/"+name, pprof.Handler(name))
		}
	})
	r.Get("/stats", StatsHandler(time.Now()))
}

// Stats is a snapshot of runtime statistics.
type Stats struct {
	Uptime     string      `json:"uptime"`
	Goroutines int         `json:"goroutines"`
	GoVersion  string      `json:"go_version"`
	NumCPU     int         `json:"num_cpu"`
	Memory     MemoryStats `json:"memory"`
}

// MemoryStats is the subset of runtime.MemStats worth watching.
type MemoryStats struct {
	Alloc      uint64 `json:"alloc"`
	TotalAlloc uint64 `json:"total_alloc"`
	Sys        uint64 `json:"sys"`
	HeapInuse  uint64 `json:"heap_inuse"`
	NumGC      uint32 `json:"num_gc"`
}

// RuntimeStats returns current runtime statistics
func RuntimeStats(started time.Time) Stats {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	return Stats{
		Uptime:     time.Since(started).Round(time.Second).String(),
		Goroutines: runtime.NumGoroutine(),
		GoVersion:  runtime.Version(),
		NumCPU:     runtime.NumCPU(),
		Memory: MemoryStats{
			Alloc:      m.Alloc,
			TotalAlloc: m.TotalAlloc,
			Sys:        m.Sys,
			HeapInuse:  m.HeapInuse,
			NumGC:      m.NumGC,
		},
	}
}

// StatsHandler serves RuntimeStats as JSON.
func StatsHandler(started time.Time) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(RuntimeStats(started))
	}
}
