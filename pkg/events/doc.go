/*
Package events implements the in-process telemetry broker for the hub.

The gateway, queue worker and sweepers publish lifecycle events here
(connections opened and closed, sessions superseded, sends dropped under
backpressure, jobs completed or dead-lettered). Subscribers receive events
on buffered channels; a slow subscriber is skipped rather than blocking the
publisher, so the broker can never stall a realtime path.

The process attaches a logging subscriber at startup. The broker is local
to one instance; cross-instance fan-out of document traffic goes through
the pub/sub bus, not through this broker.
*/
package events
