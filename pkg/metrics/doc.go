/*
Package metrics defines the Prometheus collectors exported by the hub.

Collectors are package-level and registered in init; the HTTP server mounts
Handler() at /metrics. The realtime plane reports connection counts, frame
throughput, backpressure drops and limiter rejections; the durable plane
reports queue throughput and job outcomes.
*/
package metrics
