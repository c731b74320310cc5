package usecase

import (
	"github.com/nbd-wtf/go-nostr"
)

// ValidateSignature verifies the event id and Schnorr signature. Events that
// fail must be dropped before any persistence.
func ValidateSignature(ev *nostr.Event) (bool, string) {
	ok, err := ev.CheckSignature()
	if err != nil {
		return false, err.Error()
	}
	if !ok {
		return false, "signature does not match event id and pubkey"
	}
	return true, ""
}
