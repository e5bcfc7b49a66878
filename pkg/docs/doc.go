/*
Package docs defines the contract with the data gateway, the external
service that owns document durability, edit history and authorization.

The hub depends only on the Gateway interface; Client is the production
HTTP implementation. Every call resolves to a document value or one of
three error kinds: not found, permission denied, or transient. The queue
worker turns the first two into permanent job failure and the last into a
retry with backoff.
*/
package docs
