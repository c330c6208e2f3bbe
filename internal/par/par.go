// Package par provides the chunked fan-out loop used for the data-parallel
// per-pixel and per-reflection passes. Every element's output slot is
// independent, so the workers share no mutable state and need no locking.
package par

import (
	"runtime"
	"sync"
)

// Do splits [0, n) into contiguous chunks and runs fn(lo, hi) on each chunk
// from its own goroutine, blocking until all chunks complete. fn must only
// write to output slots within its own range.
func Do(n int, fn func(lo, hi int)) {
	if n <= 0 {
		return
	}
	workers := runtime.GOMAXPROCS(0)
	if workers > n {
		workers = n
	}
	if workers <= 1 {
		fn(0, n)
		return
	}
	chunk := (n + workers - 1) / workers
	var wg sync.WaitGroup
	for lo := 0; lo < n; lo += chunk {
		hi := lo + chunk
		if hi > n {
			hi = n
		}
		wg.Add(1)
		go func(lo, hi int) {
			defer wg.Done()
			fn(lo, hi)
		}(lo, hi)
	}
	wg.Wait()
}
