// Copyright 2026 The Heapscope Authors
// SPDX-License-Identifier: Apache-2.0

package snapshot

import (
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"io"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"

	"github.com/heapscope/heapscope/lib/secret"
)

// KeySize is the size in bytes of the session key and of every
// derived per-snapshot key.
const KeySize = 32

// EncryptedPayloadVersion is the version byte prepended to encrypted
// payloads. Included as additional authenticated data (AAD) in the
// AEAD Seal/Open call, so tampering with the version byte causes
// authentication failure.
const EncryptedPayloadVersion byte = 0x01

// EncryptedPayloadOverhead is the total byte overhead per encrypted
// payload: 1 (version) + 24 (XChaCha20-Poly1305 nonce) + 16 (Poly1305
// tag). Negligible against even a small region capture.
const EncryptedPayloadOverhead = 1 + chacha20poly1305.NonceSizeX + chacha20poly1305.Overhead

// hkdfInfoPayload is the "info" parameter to HKDF-SHA256 for
// per-snapshot key derivation. Changing it invalidates every
// ciphertext encrypted under the old derivation path.
var hkdfInfoPayload = []byte("heapscope.snapshot.enc.v1")

// DeriveSnapshotKey derives the per-snapshot encryption key from the
// session key and the snapshot's content address. The same capture
// always derives the same key, so a re-written snapshot remains
// readable, while no two distinct snapshots share a key.
//
// The sessionKey is borrowed (read via .Bytes()) and is NOT closed by
// this function. The returned Buffer must be closed by the caller.
func DeriveSnapshotKey(sessionKey *secret.Buffer, id ID) (*secret.Buffer, error) {
	info := make([]byte, len(hkdfInfoPayload)+len(id))
	copy(info, hkdfInfoPayload)
	copy(info[len(hkdfInfoPayload):], id[:])
	return deriveKey(sessionKey.Bytes(), info)
}

// EncryptPayload encrypts a (compressed) payload using
// XChaCha20-Poly1305 and returns the sealed blob in the standard
// format:
//
//	[Version: 1 byte (0x01)] [Nonce: 24 bytes (random)] [Ciphertext+Tag: N+16 bytes]
//
// The version byte and the snapshot ID are included as additional
// authenticated data. Binding the ID prevents payload files from
// being swapped between snapshots on disk without detection.
//
// The key is borrowed and NOT closed. It must be exactly 32 bytes
// (the output of DeriveSnapshotKey).
func EncryptPayload(plaintext []byte, key *secret.Buffer, id ID) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(key.Bytes())
	if err != nil {
		return nil, fmt.Errorf("creating XChaCha20-Poly1305 cipher: %w", err)
	}

	// Generate a random 24-byte nonce.
	var nonce [chacha20poly1305.NonceSizeX]byte
	if _, err := io.ReadFull(rand.Reader, nonce[:]); err != nil {
		return nil, fmt.Errorf("generating random nonce: %w", err)
	}

	aad := buildAAD(EncryptedPayloadVersion, id)

	// Allocate output: version + nonce + ciphertext + tag.
	output := make([]byte, 1+chacha20poly1305.NonceSizeX, 1+chacha20poly1305.NonceSizeX+len(plaintext)+aead.Overhead())
	output[0] = EncryptedPayloadVersion
	copy(output[1:], nonce[:])

	// Seal appends the ciphertext+tag to output.
	output = aead.Seal(output, nonce[:], plaintext, aad)
	return output, nil
}

// DecryptPayload decrypts a blob produced by EncryptPayload. It
// verifies the version byte, extracts the nonce, and authenticates
// the ciphertext against the AAD (version byte + snapshot ID).
//
// Returns an error if:
//   - The blob is too short to contain version + nonce + tag
//   - The version byte is not EncryptedPayloadVersion
//   - AEAD authentication fails (wrong key, tampered ciphertext, or
//     a payload that belongs to a different snapshot)
//
// The key is borrowed and NOT closed.
func DecryptPayload(blob []byte, key *secret.Buffer, id ID) ([]byte, error) {
	if len(blob) < EncryptedPayloadOverhead {
		return nil, fmt.Errorf("encrypted payload is %d bytes, minimum is %d (version + nonce + tag)",
			len(blob), EncryptedPayloadOverhead)
	}

	version := blob[0]
	if version != EncryptedPayloadVersion {
		return nil, fmt.Errorf("encrypted payload version %d is not supported (expected %d)",
			version, EncryptedPayloadVersion)
	}

	nonce := blob[1 : 1+chacha20poly1305.NonceSizeX]
	ciphertext := blob[1+chacha20poly1305.NonceSizeX:]

	aead, err := chacha20poly1305.NewX(key.Bytes())
	if err != nil {
		return nil, fmt.Errorf("creating XChaCha20-Poly1305 cipher: %w", err)
	}

	aad := buildAAD(version, id)

	plaintext, err := aead.Open(nil, nonce, ciphertext, aad)
	if err != nil {
		return nil, fmt.Errorf("AEAD decryption failed (wrong key, tampered data, or mismatched snapshot): %w", err)
	}

	return plaintext, nil
}

// deriveKey is the shared HKDF-SHA256 implementation. It derives a
// 32-byte key from inputKeyMaterial using the given info parameter.
// The salt is nil: a session key file is expected to hold 32
// high-entropy random bytes, so HKDF's extract phase with a zero key
// (HMAC-SHA256 per RFC 5869) is appropriate.
func deriveKey(inputKeyMaterial []byte, info []byte) (*secret.Buffer, error) {
	reader := hkdf.New(sha256.New, inputKeyMaterial, nil, info)
	derived := make([]byte, KeySize)
	if _, err := io.ReadFull(reader, derived); err != nil {
		secret.Zero(derived)
		return nil, fmt.Errorf("HKDF key derivation failed: %w", err)
	}
	// NewFromBytes copies into mmap and zeros the heap slice.
	return secret.NewFromBytes(derived)
}

// buildAAD constructs the additional authenticated data for AEAD
// operations: the version byte followed by the snapshot ID.
func buildAAD(version byte, id ID) []byte {
	aad := make([]byte, 1+len(id))
	aad[0] = version
	copy(aad[1:], id[:])
	return aad
}
