// Package session implements staff access tokens for the POS realtime layer.
//
// Tokens are PASETO v4.public, signed by whoever authenticates staff (the POS web app)
// and verified by the realtime server at connection handshake. The claims carry the
// identity the realtime core routes by: user id, display name, role and restaurant id.
//
// The realtime server usually holds only the public key; minting is available when the
// secret key is configured (dev tooling, tests).
package session
