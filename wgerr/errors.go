// Package wgerr defines the drop/error taxonomy shared across the core.
// Most of these are never returned to a caller — they classify why a
// packet was dropped internally and are logged via wglog — but a few
// (malformed input, expired session) are surfaced so an upper layer can
// branch on them with errors.Is.
package wgerr

import "errors"

var (
	ErrMalformedMessage = errors.New("malformed message")
	ErrBadMac1          = errors.New("invalid mac1")
	ErrBadMac2UnderLoad = errors.New("invalid mac2 under load")
	ErrRateLimited      = errors.New("rate limited")
	ErrDecryptFailure   = errors.New("aead decryption failed")
	ErrReplayRejected   = errors.New("replayed counter rejected")
	ErrUnknownKeyID     = errors.New("unknown key id")
	ErrHandshakeStale   = errors.New("stale handshake timestamp")
	ErrAttemptsExceeded = errors.New("handshake attempts exceeded")
	ErrSessionExpired   = errors.New("session expired")
	ErrInvalidKey       = errors.New("invalid key material")
	ErrUnknownPeer      = errors.New("unknown peer")
	ErrQueueFull        = errors.New("outbound queue full")
)
