/*
Package api exposes the hub's HTTP surface.

One endpoint is part of the product contract: POST /documents/{id}, the
update intake. It authorizes the caller through the data gateway, asks
the content cache whether anything actually changed, and either answers
"skipped" or enqueues a persistence job and answers "queued" with the job
id. The slow durable write never runs on the request path.

The remainder is operational: queue stats and dead-letter inspection,
dead-letter retry, queue clearing, health, Prometheus metrics, and the
websocket mount at /ws handled by the gateway package.
*/
package api
