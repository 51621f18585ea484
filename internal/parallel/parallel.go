// Package parallel provides the chunked parallel-for used by batched energy
// and gradient evaluation.
package parallel

import (
	"runtime"
	"sync"

	"github.com/klauspost/cpuid/v2"
)

// Config controls parallel execution behavior.
type Config struct {
	Enabled      bool // Whether parallel execution is enabled.
	NumWorkers   int  // Number of worker goroutines to use.
	MinChunkSize int  // Minimum items per goroutine to avoid overhead.
}

// DefaultConfig returns defaults based on the physical core count.
//
// Energy evaluation is floating-point bound, so hyperthreads add little;
// cpuid reports physical cores where the OS only exposes logical ones.
func DefaultConfig() Config {
	n := cpuid.CPU.PhysicalCores
	if n <= 0 {
		n = runtime.NumCPU()
	}
	return Config{
		Enabled:      n > 1,
		NumWorkers:   n,
		MinChunkSize: 64,
	}
}

// Sequential returns a configuration that never spawns goroutines.
func Sequential() Config {
	return Config{Enabled: false, NumWorkers: 1, MinChunkSize: 1}
}

// For executes f(i) for i in [0, n) with optional parallelism.
// Falls back to sequential execution if parallelism is disabled or n is too small.
// f must only write to state owned by index i.
func For(n int, f func(i int), cfg Config) {
	if !cfg.Enabled || cfg.NumWorkers <= 1 || n < cfg.MinChunkSize {
		for i := 0; i < n; i++ {
			f(i)
		}
		return
	}

	var wg sync.WaitGroup
	for _, c := range Chunks(n, cfg) {
		wg.Add(1)
		go func(s, e int) {
			defer wg.Done()
			for i := s; i < e; i++ {
				f(i)
			}
		}(c.Start, c.End)
	}
	wg.Wait()
}

// Chunk is a half-open index range [Start, End).
type Chunk struct {
	Start, End int
}

// Chunks splits [0, n) into contiguous ranges, one per worker, none smaller
// than MinChunkSize (except the last). The split depends only on n and cfg,
// so reductions that combine per-chunk results in slice order are
// deterministic.
func Chunks(n int, cfg Config) []Chunk {
	if n <= 0 {
		return nil
	}
	workers := cfg.NumWorkers
	if !cfg.Enabled || workers < 1 {
		workers = 1
	}
	chunkSize := max((n+workers-1)/workers, cfg.MinChunkSize, 1)

	chunks := make([]Chunk, 0, (n+chunkSize-1)/chunkSize)
	for start := 0; start < n; start += chunkSize {
		chunks = append(chunks, Chunk{Start: start, End: min(start+chunkSize, n)})
	}
	return chunks
}
