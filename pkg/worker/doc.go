/*
Package worker implements the queue worker that turns pending persistence
jobs into durable writes.

# Architecture

The worker is the slow half of the hub's two planes. The realtime plane
(gateway, bus, presence) never waits on the database; everything durable
flows through the queue and lands here:

	intake ──enqueue──▶ pending list ──pop──▶ Worker ──▶ data gateway
	                                            │
	                                            ├──▶ content cache refresh
	                                            └──▶ edit history (best effort)

# Lifecycle

Start schedules a tick (default one second). Each tick pops at most one
job and dispatches on its type; a single tick runs at a time per process.
Stop lets the in-flight job finish (or hit its soft timeout) before the
loop exits. Multiple worker processes may drain the same queue because
the pending-list pop is atomic.

# Failure handling

document-update jobs distinguish three outcomes:

  - not-found or permission-denied from the data gateway: the job can
    never succeed, so it dead-letters immediately with a tagged error
  - transient gateway or store errors, and jobs that exceed the soft
    timeout: retry with backoff up to the attempt limit, then dead-letter
  - content-cache refresh and history-append failures: logged and
    swallowed; the durable write already succeeded

Dead-lettered jobs stay inspectable and retryable through the queue's
admin surface.
*/
package worker
