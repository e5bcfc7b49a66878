/*
Package cache provides the shared Redis store behind all cluster-owned
state: presence hashes, content snapshots, rate-limit windows, the
persistence queue and the pub/sub topics.

The Store verifies connectivity at startup (a hub that cannot reach the
store refuses to start) and bounds every call with a per-call timeout via
Context(). Durability is best-effort; callers on realtime paths degrade on
a miss or error rather than failing, per their own failure semantics.

This package also owns the cluster key layout. Keys carry no instance
identity: any instance may mutate any key, and mutual exclusion comes from
the store's atomic primitives (hash set/del, list push/pop, sorted-set
add), never client-side locking.
*/
package cache
