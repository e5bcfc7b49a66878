/*
Package types defines the shared domain types of the coscribe hub.

These are the wire and storage shapes exchanged between the realtime
gateway, the presence registry, the persistence queue and the HTTP intake:

  - Frame: the JSON message on a client websocket
  - Envelope: the message on a document pub/sub topic, tagged with the
    originating socket id for echo suppression
  - Session: one principal's attachment to one document
  - Snapshot: the cached latest title/body of a document
  - Job / DocumentUpdate: units of durable work for the queue worker

CRDT and awareness payloads are opaque to the hub; Frame and Envelope carry
them as raw JSON and forward them byte for byte.
*/
package types
