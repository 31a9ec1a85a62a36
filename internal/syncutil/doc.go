// Package syncutil is an internal dependency of pool.Pool's construction
// warm-up: dialing config.InitialSize sessions one at a time would make New
// take InitialSize times a single connect's latency, so warm-up fans out
// through a [WorkerPool] instead.
//
//	warm := syncutil.NewWorkerPool(warmupConcurrency)
//	for i := 0; i < initialSize; i++ {
//	    warm.Submit(func() { /* dial and stash one session */ })
//	}
//	warm.Wait()
//
// [WorkerPool] is backed by a [Semaphore], also exported for any future
// caller that only needs the bounding primitive without the submit/wait
// bookkeeping.
package syncutil
