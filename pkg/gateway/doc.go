/*
Package gateway implements the realtime edge of the hub: websocket
acceptance, authentication, frame routing and local fan-out.

# Architecture

Each instance runs one Hub. The Hub holds the only instance-local state in
the system, a delivery index from socket id to connection plus the set of
document topics the instance is currently subscribed to:

	client ──ws──▶ Hub ──admit──▶ rate limiter
	                │
	                ├──sessions──▶ presence registry (cluster-wide)
	                └──publish───▶ bus topic ──▶ every subscribed instance
	                                               │
	                                   relay ──▶ local sockets (minus originator)

The presence registry answers "who is editing"; the local index answers
"how do I reach them". They are never conflated: membership questions go
to the registry, delivery goes through the bus and the index.

# Connection lifecycle

A connection starts unauthenticated; the bearer token in the handshake
query string either authenticates it or refuses the upgrade. Once
authenticated it may join one document at a time. Joining writes a session
into the registry, subscribes the instance to the document topic (first
local member only), announces the join on the bus and returns the full
session list to the joiner. Leaving, disconnecting, or re-joining another
document reverses all of that; when the last local session for a document
departs, the topic subscription is released.

A second join by the same principal supersedes the first session
cluster-wide. The superseded socket is not closed; its frames are still
relayed (membership is not re-checked per message, for latency) and its
eventual disconnect cleanup is a harmless no-op.

# Fan-out and backpressure

Every published envelope carries the originating socket id, and the relay
skips exactly that socket. Filtering by principal would be wrong: one
principal editing from two devices must see each device's updates on the
other. Outbound frames queue on a bounded per-socket buffer; when it is
full the frame is dropped and counted rather than blocking the relay or
severing the connection.

# Periodic duties

The Hub owns two background tickers: rate-limiter garbage collection
every five minutes and the presence stale sweep every ten, both intervals
configurable.
*/
package gateway
