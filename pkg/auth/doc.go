/*
Package auth verifies the bearer tokens presented by clients.

Tokens are HS256 JWTs minted by the account service; the hub only verifies
them. The subject claim carries the principal id and the name claim the
display name. The websocket gateway verifies the token from the handshake
query string and refuses the upgrade on failure; the HTTP surface verifies
the Authorization header and answers 401.
*/
package auth
