// Package integrity provides the deterministic hashing primitives behind
// dataset versioning: version IDs, entry hashes, content checksums, and
// hash-based split assignment. All functions are pure and deterministic.
package integrity

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"hash"
	"sort"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/hoshu-ai/hoshu/internal/model"
)

// Version IDs carry a format prefix so the encoding can evolve without
// breaking stored datasets.
const versionIDPrefix = "v1:"

// Split boundaries over the [0, splitBuckets) hash range: 80/10/10.
const (
	splitBuckets  = 10000
	trainBoundary = 8000
	valBoundary   = 9000
)

// DatasetVersionID produces a deterministic version identifier from the
// selection criteria and the newest contributing record timestamp. A rebuild
// over an unchanged record set hashes the same inputs and yields the same ID.
func DatasetVersionID(c model.DatasetCriteria, snapshot time.Time) string {
	h := sha256.New()
	writeField(h, formatTime(c.Start))
	writeField(h, formatTime(c.End))

	// IDs are sorted before hashing so criteria equality is set equality.
	convs := make([]string, len(c.ConversationIDs))
	for i, id := range c.ConversationIDs {
		convs[i] = id.String()
	}
	sort.Strings(convs)
	writeList(h, convs)

	users := append([]string(nil), c.UserIDs...)
	sort.Strings(users)
	writeList(h, users)

	writeField(h, strconv.Itoa(c.MinFeedbackCount))
	if c.MinReward != nil {
		writeField(h, strconv.FormatFloat(*c.MinReward, 'f', -1, 64))
	} else {
		writeField(h, "")
	}
	writeField(h, formatTime(snapshot))

	return versionIDPrefix + hex.EncodeToString(h.Sum(nil))
}

// EntryHash produces the leaf hash for one dataset entry.
func EntryHash(messageID uuid.UUID, score float64, split model.Split) string {
	h := sha256.New()
	writeField(h, messageID.String())
	writeField(h, strconv.FormatFloat(score, 'f', -1, 64))
	writeField(h, string(split))
	return hex.EncodeToString(h.Sum(nil))
}

// DatasetChecksum computes the Merkle root over the entry hashes, binding the
// full ordered content of a dataset to a single digest. Entries must already
// be in their canonical (message ID) order.
func DatasetChecksum(entries []model.DatasetEntry) string {
	leaves := make([]string, len(entries))
	for i, e := range entries {
		leaves[i] = EntryHash(e.MessageID, e.CompositeScore, e.Split)
	}
	return merkleRoot(leaves)
}

// SplitFor deterministically assigns a message to a train/val/test split by
// hashing its ID into [0, splitBuckets) and thresholding. No stored seed:
// the assignment is reproducible from the ID alone and stable across builds
// even as new messages are added.
func SplitFor(messageID uuid.UUID) model.Split {
	sum := sha256.Sum256([]byte(messageID.String()))
	bucket := binary.BigEndian.Uint64(sum[:8]) % splitBuckets
	switch {
	case bucket < trainBoundary:
		return model.SplitTrain
	case bucket < valBoundary:
		return model.SplitVal
	default:
		return model.SplitTest
	}
}

// writeField encodes one field as a 4-byte big-endian length prefix followed
// by the field bytes. Length prefixing avoids delimiter collisions when
// freeform fields contain separator characters.
func writeField(h hash.Hash, s string) {
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(s)))
	h.Write(lenBuf[:])
	h.Write([]byte(s))
}

// writeList encodes a length-prefixed list of fields, so ["a","b"] and
// ["ab"] hash differently.
func writeList(h hash.Hash, items []string) {
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(items)))
	h.Write(lenBuf[:])
	for _, s := range items {
		writeField(h, s)
	}
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

// hashPair produces SHA-256(0x01 || a || b) as a hex string. The 0x01 prefix
// is a domain separator for internal Merkle nodes (per RFC 6962), so internal
// node hashes can never collide with leaf hashes.
func hashPair(a, b string) string {
	h := sha256.New()
	h.Write([]byte{0x01})
	h.Write([]byte(a))
	h.Write([]byte(b))
	return hex.EncodeToString(h.Sum(nil))
}

// merkleRoot builds a Merkle tree from leaf hashes bottom-up and returns the
// root. Empty input yields an empty string; a single leaf is its own root.
// Odd-length levels hash the last node with itself for structural binding.
func merkleRoot(leaves []string) string {
	if len(leaves) == 0 {
		return ""
	}
	level := append([]string(nil), leaves...)
	for len(level) > 1 {
		var next []string
		for i := 0; i < len(level); i += 2 {
			if i+1 < len(level) {
				next = append(next, hashPair(level[i], level[i+1]))
			} else {
				next = append(next, hashPair(level[i], level[i]))
			}
		}
		level = next
	}
	return level[0]
}
