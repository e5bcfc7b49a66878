/*
Package ratelimit admits or rejects realtime messages before they consume
any further resources.

Each (principal, message type) pair owns a sorted set of request
timestamps in the cache store. Admission counts the timestamps inside the
configured window; overflowing the window sets a block marker that rejects
everything until it expires. CRDT updates and awareness updates carry
rules; all other types are unlimited.

The limiter fails open when the store is unreachable. A garbage-collection
pass, triggered by the gateway every five minutes, trims members older
than an hour and drops empty windows.
*/
package ratelimit
