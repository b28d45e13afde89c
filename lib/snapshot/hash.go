// Copyright 2026 The Heapscope Authors
// SPDX-License-Identifier: Apache-2.0

package snapshot

import (
	"encoding/hex"
	"fmt"

	"github.com/zeebo/blake3"
)

// ID is the 32-byte BLAKE3 digest that names a snapshot. It is
// computed over the uncompressed capture bytes, so the name is stable
// across compression and encryption settings.
type ID [32]byte

// domainKey is a 32-byte key for BLAKE3 keyed hashing. Keyed hashing
// gives domain separation: payload digests can never collide with
// digests another subsystem computes over the same bytes.
type domainKey [32]byte

// payloadDomainKey is the domain key for snapshot content addresses.
// It is a fixed constant — changing it renames every stored snapshot.
// The byte values are the ASCII encoding of the domain name,
// zero-padded to 32 bytes, so the key is inspectable in hex dumps
// without sacrificing any cryptographic property.
var payloadDomainKey = domainKey{
	'h', 'e', 'a', 'p', 's', 'c', 'o', 'p', 'e', '.',
	's', 'n', 'a', 'p', 's', 'h', 'o', 't', '.',
	'p', 'a', 'y', 'l', 'o', 'a', 'd', 0, 0, 0, 0, 0, 0,
}

// HashPayload computes the content address of a snapshot from its
// uncompressed bytes.
func HashPayload(data []byte) ID {
	// NewKeyed requires exactly 32 bytes, which domainKey guarantees.
	hasher, err := blake3.NewKeyed(payloadDomainKey[:])
	if err != nil {
		panic("snapshot: BLAKE3 keyed hash initialization failed: " + err.Error())
	}
	hasher.Write(data)
	var id ID
	copy(id[:], hasher.Sum(nil))
	return id
}

// FormatID returns the hex-encoded form of an ID. This is the
// canonical format used in manifests, logs, and CLI output.
func FormatID(id ID) string {
	return hex.EncodeToString(id[:])
}

// ParseID parses a 64-character hex string into an ID.
func ParseID(hexString string) (ID, error) {
	var id ID
	decoded, err := hex.DecodeString(hexString)
	if err != nil {
		return id, fmt.Errorf("parsing snapshot id: %w", err)
	}
	if len(decoded) != 32 {
		return id, fmt.Errorf("snapshot id is %d bytes, want 32", len(decoded))
	}
	copy(id[:], decoded)
	return id, nil
}

// FormatRef returns the short snapshot reference: the "snap-" prefix
// followed by the first 12 hex characters of the ID.
func FormatRef(id ID) string {
	return "snap-" + hex.EncodeToString(id[:6])
}
