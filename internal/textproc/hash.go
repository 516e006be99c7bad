package textproc

import (
	"hash/fnv"
	"strconv"
)

// Fingerprint returns a stable 64-bit FNV-1a hash of s, hex encoded.
// It is used for change detection and chunk dedup keys, so the algorithm
// must never change without a backward-compatibility migration: stored
// fingerprints from prior runs are compared against freshly computed ones.
func Fingerprint(s string) string {
	h := fnv.New64a()
	h.Write([]byte(s))
	return strconv.FormatUint(h.Sum64(), 16)
}

// DocumentFingerprint fingerprints a document's full normalized text.
// The document ID is mixed in so identical text under two IDs never collides.
func DocumentFingerprint(docID, text string) string {
	return Fingerprint(docID + ":" + text)
}

// ChunkFingerprint fingerprints a single chunk of a document.
func ChunkFingerprint(docID, chunk string) string {
	return Fingerprint(docID + ":" + chunk)
}
