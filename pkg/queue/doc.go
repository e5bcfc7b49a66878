/*
Package queue implements the durable work queue between the update intake
and the queue worker.

Three structures live in the cache store: a pending list (FIFO: head push,
tail pop), a processing hash keyed by job id, and a dead-letter list.
Jobs carry attempt counts and a backoff; a retryable failure below the
attempt limit returns to the pending list at once, stamped with the time
the retry becomes due, and the dequeue defers it until then. Everything
else dead-letters with the error and failure time attached. Because the
retry sits in the pending list rather than a process-local timer, a
worker restart cannot drop it.

The pop-then-record step is deliberately not transactional. A worker crash
between the two orphans one job, and that is acceptable because the intake
treats persistence as acknowledged-at-most-once and the content cache's
change check makes the client's next save re-enqueue exactly the lost
state.
*/
package queue
