package cache

import (
	"crypto/sha256"
	"encoding/hex"
)

// physicalKey translates a caller-supplied logical key into the versioned
// key used for storage. Keys longer than maxLen collapse to a fixed-length
// hash so the version prefix survives and lookups stay deterministic.
func physicalKey(version, logical string, maxLen int) string {
	key := version + ":" + logical
	if maxLen > 0 && len(key) > maxLen {
		sum := sha256.Sum256([]byte(key))
		return version + ":" + hex.EncodeToString(sum[:])
	}
	return key
}

// contentFilename derives the on-disk content file name for a physical key.
// The physical key already embeds the cache version, so entries from
// different versions never collide on the same file.
func contentFilename(physical string) string {
	sum := sha256.Sum256([]byte(physical))
	return hex.EncodeToString(sum[:]) + ".dat"
}
