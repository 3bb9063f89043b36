// Package id mints run identifiers used to tag archived usage rows.
package id

import (
	"crypto/rand"
	"encoding/hex"
)

func NewRun() string {
	var b [8]byte
	if _, err := rand.Read(b[:]); err != nil {
		return "run-unknown"
	}
	return "run-" + hex.EncodeToString(b[:])
}
