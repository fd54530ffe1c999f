// Package worker runs jobs on bounded goroutines. Jobs that share a key are
// handled one at a time in arrival order; different keys run concurrently.
package worker

import "context"

// acquire takes one slot of sem, or reports false once ctx ends.
func acquire(ctx context.Context, sem chan struct{}) bool {
	select {
	case sem <- struct{}{}:
		return true
	case <-ctx.Done():
		return false
	}
}

func release(sem chan struct{}) {
	<-sem
}
