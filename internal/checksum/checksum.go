// Package checksum fingerprints indexed rows so unchanged ones can be skipped.
package checksum

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"hash"
)

// Row fingerprints a positioned record. Each field is length-prefixed, so
// ("ab","c") and ("a","bc") differ.
func Row(pos int, fields ...string) string {
	h := sha256.New()
	writeUint(h, uint64(pos))
	for _, f := range fields {
		writeUint(h, uint64(len(f)))
		_, _ = h.Write([]byte(f))
	}
	return hex.EncodeToString(h.Sum(nil))
}

func writeUint(h hash.Hash, v uint64) {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	_, _ = h.Write(b[:])
}
