/*
Package presence implements the distributed registry of who is editing
which document.

Each document owns a hash in the cache store keyed by principal id; the
value is the session record (display name, socket id, last activity,
cursor). The hash carries a TTL refreshed on every mutation and is deleted
when it becomes empty, so an abandoned document leaves nothing behind.

At most one session exists per (document, principal). A second join by the
same principal overwrites the field: last writer wins on socket id, and
the superseded socket discovers its obsolescence through natural
disconnect or the stale sweep rather than an out-of-band signal. Removal
is socket-owned: a session is deleted only when the caller's socket id
still matches the stored record, so a superseded socket's cleanup cannot
take down the live session.

The registry is the single source of truth for membership. The per-instance
socket index kept by the gateway is only a delivery table and is never
consulted for membership questions.
*/
package presence
