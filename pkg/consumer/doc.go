/*
Package consumer implements the message consumer: it pulls
ExecutionRequests off a queue.Queue, hands each one to the execution
engine with bounded concurrency, and routes the terminal ExecutionResult
back to the queue (reply, immediate requeue, or dead-letter).

Bounded concurrency plus per-item fire-and-forget goroutines is the same
shape a poll-then-"go executeContainer(task)" per new item loop takes,
generalized from a polling loop over assigned containers to a blocking
Receive loop over a queue, and from an unbounded per-container goroutine
to a semaphore-bounded one sized by runner_concurrency. Stop mirrors a
close(stopCh) shutdown signal, with an added sync.WaitGroup drain: Stop
waits for in-flight executions for at most DrainTimeout and returns when
they finish or that timeout passes, whichever comes first.
*/
package consumer
