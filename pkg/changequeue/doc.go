// Package changequeue carries single-file change events from the watcher to
// the sync engine with bounded retry.
//
// Invariants:
// - Jobs are processed in FIFO order per queue.
// - A failing job is retried with exponential backoff up to MaxRetries times,
//   then moved verbatim to the dead-letter queue and never retried automatically.
// - A job failure never stops the worker; only context cancellation does.
//
// Usage:
//
//	backend := changequeue.NewMemoryBackend()
//	queue := changequeue.New(changequeue.Config{Backend: backend})
//	_, _ = queue.Enqueue(ctx, changequeue.Event{Type: changequeue.EventCreated, Path: "/docs/a.md"})
//	worker := changequeue.NewWorker(queue, engine, changequeue.WorkerConfig{MaxRetries: 5})
//	go worker.Run(ctx)
package changequeue
