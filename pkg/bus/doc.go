/*
Package bus routes document traffic between server instances.

Every document has one pub/sub topic on the cache store. An instance
subscribes to a topic while it holds at least one local socket joined to
that document and unsubscribes when the last one departs; the gateway owns
that bookkeeping through explicit Subscription handles.

Envelopes carry the originating socket id. The bus delivers everything to
every subscriber, including the publisher; filtering the originator out is
the gateway's job during local fan-out, because the same principal may
legitimately hold sockets on two devices that must see each other's edits.
*/
package bus
