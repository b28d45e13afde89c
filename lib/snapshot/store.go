// Copyright 2026 The Heapscope Authors
// SPDX-License-Identifier: Apache-2.0

package snapshot

import (
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/heapscope/heapscope/lib/codec"
	"github.com/heapscope/heapscope/lib/gcphase"
	"github.com/heapscope/heapscope/lib/secret"
)

// Directory names within the snapshot store root.
const (
	payloadDir  = "payloads"
	manifestDir = "manifests"
	tmpDir      = "tmp"
)

// Config configures a snapshot store.
type Config struct {
	// Root is the store directory. Created if it does not exist.
	Root string

	// SessionKey, when set, seals every written payload and unseals
	// encrypted payloads on read. Must be exactly KeySize bytes. The
	// buffer is borrowed: the caller keeps ownership and closes it
	// after the store is no longer used.
	SessionKey *secret.Buffer

	// Compression, when set, forces a compression algorithm for every
	// write instead of probing each capture.
	Compression *CompressionTag

	// Logger receives store activity. Defaults to a discard logger.
	Logger *slog.Logger
}

// Store holds snapshots on the local filesystem, addressed by the
// BLAKE3 digest of their uncompressed bytes. It is safe for
// concurrent reads; writes are serialized by the session, which only
// captures between halts.
type Store struct {
	root        string
	sessionKey  *secret.Buffer
	compression *CompressionTag
	logger      *slog.Logger
}

// New creates a Store rooted at cfg.Root. The directory structure is
// created if it does not exist.
func New(cfg Config) (*Store, error) {
	if cfg.Root == "" {
		return nil, fmt.Errorf("snapshot: store root must not be empty")
	}
	if cfg.SessionKey != nil && cfg.SessionKey.Len() != KeySize {
		return nil, fmt.Errorf("snapshot: session key must be %d bytes, got %d", KeySize, cfg.SessionKey.Len())
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.DiscardHandler)
	}

	for _, dir := range []string{
		cfg.Root,
		filepath.Join(cfg.Root, payloadDir),
		filepath.Join(cfg.Root, manifestDir),
		filepath.Join(cfg.Root, tmpDir),
	} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("snapshot: creating store directory %s: %w", dir, err)
		}
	}

	return &Store{
		root:        cfg.Root,
		sessionKey:  cfg.SessionKey,
		compression: cfg.Compression,
		logger:      cfg.Logger,
	}, nil
}

// StoreResult is returned by [Store.Write] with metadata about the
// stored snapshot.
type StoreResult struct {
	// ID is the snapshot's content address.
	ID ID

	// Ref is the short snapshot reference (snap-<12 hex chars>).
	Ref string

	// Size is the uncompressed payload size in bytes.
	Size int64

	// StoredSize is the on-disk payload size in bytes.
	StoredSize int64

	// Compression is the algorithm the payload was stored under.
	// Falls back to CompressionNone when the capture proved
	// incompressible.
	Compression CompressionTag

	// Encrypted reports whether the payload was sealed.
	Encrypted bool

	// Duplicate reports that an identical snapshot already existed
	// and no bytes were written.
	Duplicate bool
}

// Write stores a capture: compress, optionally encrypt, then payload
// and manifest via atomic renames. Identical captures deduplicate —
// the content address already names the bytes, so the existing
// snapshot (and its manifest, including the original capture state)
// stands.
func (s *Store) Write(capture *Capture) (*StoreResult, error) {
	if capture == nil || len(capture.Data) == 0 {
		return nil, fmt.Errorf("snapshot: cannot store an empty capture")
	}

	id := HashPayload(capture.Data)

	if existing, err := s.Stat(id); err == nil {
		tag, parseErr := ParseCompressionTag(existing.Compression)
		if parseErr != nil {
			return nil, fmt.Errorf("snapshot: existing manifest for %s: %w", FormatID(id), parseErr)
		}
		s.logger.Debug("snapshot deduplicated",
			"ref", FormatRef(id),
			"epoch", capture.Epoch)
		return &StoreResult{
			ID:          id,
			Ref:         FormatRef(id),
			Size:        existing.Size,
			StoredSize:  existing.StoredSize,
			Compression: tag,
			Encrypted:   existing.Encrypted,
			Duplicate:   true,
		}, nil
	}

	tag := SelectCompression(capture.Data)
	if s.compression != nil {
		tag = *s.compression
	}
	payload, actualTag, err := compressWithFallback(capture.Data, tag)
	if err != nil {
		return nil, fmt.Errorf("snapshot: compressing %s: %w", FormatRef(id), err)
	}

	encrypted := false
	if s.sessionKey != nil {
		key, err := DeriveSnapshotKey(s.sessionKey, id)
		if err != nil {
			return nil, fmt.Errorf("snapshot: deriving key for %s: %w", FormatRef(id), err)
		}
		sealed, err := EncryptPayload(payload, key, id)
		key.Close()
		if err != nil {
			return nil, fmt.Errorf("snapshot: encrypting %s: %w", FormatRef(id), err)
		}
		payload = sealed
		encrypted = true
	}

	// Payload before manifest: the manifest's presence marks the
	// snapshot complete, so it must land last.
	if err := s.writeBlob(s.payloadPath(id), payload, "payload-*.bin"); err != nil {
		return nil, err
	}

	manifest := &Manifest{
		FormatVersion:   ManifestVersion,
		ID:              FormatID(id),
		Epoch:           capture.Epoch,
		Phase:           capture.Phase.String(),
		CyclesStarted:   capture.CyclesStarted,
		CyclesCompleted: capture.CyclesCompleted,
		Region:          regionInfo(capture.Region),
		Size:            int64(len(capture.Data)),
		StoredSize:      int64(len(payload)),
		Compression:     actualTag.String(),
		Encrypted:       encrypted,
		CapturedAt:      capture.CapturedAt,
	}
	encoded, err := codec.Marshal(manifest)
	if err != nil {
		return nil, fmt.Errorf("snapshot: encoding manifest for %s: %w", FormatRef(id), err)
	}
	if err := s.writeBlob(s.manifestPath(id), encoded, "manifest-*.cbor"); err != nil {
		return nil, err
	}

	s.logger.Info("snapshot stored",
		"ref", FormatRef(id),
		"region", capture.Region.Name,
		"epoch", capture.Epoch,
		"size", len(capture.Data),
		"stored_size", len(payload),
		"compression", actualTag.String(),
		"encrypted", encrypted)

	return &StoreResult{
		ID:          id,
		Ref:         FormatRef(id),
		Size:        int64(len(capture.Data)),
		StoredSize:  int64(len(payload)),
		Compression: actualTag,
		Encrypted:   encrypted,
	}, nil
}

// Read loads a snapshot: unseal if encrypted, decompress, then verify
// the bytes against the content address they were requested under.
func (s *Store) Read(id ID) (*Capture, error) {
	manifest, err := s.Stat(id)
	if err != nil {
		return nil, err
	}
	if err := manifest.Validate(); err != nil {
		return nil, fmt.Errorf("snapshot: manifest for %s: %w", FormatID(id), err)
	}
	if manifest.ID != FormatID(id) {
		return nil, fmt.Errorf("snapshot: manifest records id %s, requested %s", manifest.ID, FormatID(id))
	}

	payload, err := os.ReadFile(s.payloadPath(id))
	if err != nil {
		return nil, fmt.Errorf("snapshot: reading payload for %s: %w", FormatRef(id), err)
	}

	if manifest.Encrypted {
		if s.sessionKey == nil {
			return nil, fmt.Errorf("snapshot: %s is encrypted and the store has no session key", FormatRef(id))
		}
		key, err := DeriveSnapshotKey(s.sessionKey, id)
		if err != nil {
			return nil, fmt.Errorf("snapshot: deriving key for %s: %w", FormatRef(id), err)
		}
		plain, err := DecryptPayload(payload, key, id)
		key.Close()
		if err != nil {
			return nil, fmt.Errorf("snapshot: decrypting %s: %w", FormatRef(id), err)
		}
		payload = plain
	}

	tag, err := ParseCompressionTag(manifest.Compression)
	if err != nil {
		return nil, fmt.Errorf("snapshot: manifest for %s: %w", FormatRef(id), err)
	}
	data, err := DecompressPayload(payload, tag, int(manifest.Size))
	if err != nil {
		return nil, fmt.Errorf("snapshot: decompressing %s: %w", FormatRef(id), err)
	}

	if HashPayload(data) != id {
		return nil, fmt.Errorf("snapshot: content verification failed for %s", FormatID(id))
	}

	phase, err := gcphase.ParsePhase(manifest.Phase)
	if err != nil {
		return nil, fmt.Errorf("snapshot: manifest for %s: %w", FormatRef(id), err)
	}

	return &Capture{
		Region:          manifest.Region.Region(),
		Epoch:           manifest.Epoch,
		Phase:           phase,
		CyclesStarted:   manifest.CyclesStarted,
		CyclesCompleted: manifest.CyclesCompleted,
		CapturedAt:      manifest.CapturedAt,
		Data:            data,
	}, nil
}

// Stat returns a snapshot's manifest without reading its payload.
func (s *Store) Stat(id ID) (*Manifest, error) {
	data, err := s.RawManifest(id)
	if err != nil {
		return nil, err
	}
	var manifest Manifest
	if err := codec.Unmarshal(data, &manifest); err != nil {
		return nil, fmt.Errorf("snapshot: decoding manifest for %s: %w", FormatID(id), err)
	}
	return &manifest, nil
}

// RawManifest returns a snapshot's manifest as stored, without
// decoding it. Tooling uses this to inspect manifests written by other
// heapscope versions.
func (s *Store) RawManifest(id ID) ([]byte, error) {
	data, err := os.ReadFile(s.manifestPath(id))
	if err != nil {
		return nil, fmt.Errorf("snapshot: reading manifest for %s: %w", FormatID(id), err)
	}
	return data, nil
}

// Exists reports whether a snapshot's manifest is on disk.
func (s *Store) Exists(id ID) bool {
	_, err := os.Stat(s.manifestPath(id))
	return err == nil
}

// List returns the manifests of every stored snapshot, ordered by
// capture time (oldest first), ties broken by ID.
func (s *Store) List() ([]Manifest, error) {
	var manifests []Manifest

	root := filepath.Join(s.root, manifestDir)
	err := filepath.WalkDir(root, func(path string, entry fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if entry.IsDir() || !strings.HasSuffix(path, ".cbor") {
			return nil
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("reading %s: %w", path, err)
		}
		var manifest Manifest
		if err := codec.Unmarshal(data, &manifest); err != nil {
			// A torn or foreign file must not hide every other
			// snapshot in the store.
			s.logger.Warn("skipping undecodable manifest", "path", path, "error", err)
			return nil
		}
		manifests = append(manifests, manifest)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("snapshot: listing store: %w", err)
	}

	sort.Slice(manifests, func(i, j int) bool {
		if !manifests[i].CapturedAt.Equal(manifests[j].CapturedAt) {
			return manifests[i].CapturedAt.Before(manifests[j].CapturedAt)
		}
		return manifests[i].ID < manifests[j].ID
	})
	return manifests, nil
}

// Remove deletes a snapshot. The manifest goes first — once it is
// gone the snapshot no longer exists — and a payload missing on the
// second step is tolerated.
func (s *Store) Remove(id ID) error {
	if err := os.Remove(s.manifestPath(id)); err != nil {
		return fmt.Errorf("snapshot: removing manifest for %s: %w", FormatID(id), err)
	}
	if err := os.Remove(s.payloadPath(id)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("snapshot: removing payload for %s: %w", FormatID(id), err)
	}
	return nil
}

// writeBlob writes data to finalPath via atomic rename through the
// tmp directory.
func (s *Store) writeBlob(finalPath string, data []byte, pattern string) error {
	tmpFile, err := os.CreateTemp(filepath.Join(s.root, tmpDir), pattern)
	if err != nil {
		return fmt.Errorf("snapshot: creating temp file: %w", err)
	}
	tmpPath := tmpFile.Name()

	// Clean up the temp file on any error path.
	success := false
	defer func() {
		if !success {
			os.Remove(tmpPath)
		}
	}()

	if _, err := tmpFile.Write(data); err != nil {
		tmpFile.Close()
		return fmt.Errorf("snapshot: writing %s: %w", filepath.Base(finalPath), err)
	}
	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("snapshot: closing temp file: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(finalPath), 0o755); err != nil {
		return fmt.Errorf("snapshot: creating shard directory: %w", err)
	}
	if err := os.Rename(tmpPath, finalPath); err != nil {
		return fmt.Errorf("snapshot: renaming to %s: %w", finalPath, err)
	}

	success = true
	return nil
}

// payloadPath returns the sharded filesystem path for a payload.
// Payloads are sharded by the first two bytes of the ID hex:
// payloads/a3/f9/a3f9b2c1....bin
func (s *Store) payloadPath(id ID) string {
	hex := FormatID(id)
	return filepath.Join(s.root, payloadDir, hex[:2], hex[2:4], hex+".bin")
}

// manifestPath returns the sharded filesystem path for a manifest.
func (s *Store) manifestPath(id ID) string {
	hex := FormatID(id)
	return filepath.Join(s.root, manifestDir, hex[:2], hex[2:4], hex+".cbor")
}

// compressWithFallback attempts to compress data with the given
// algorithm. If the data is incompressible, falls back to
// CompressionNone and returns the original data.
func compressWithFallback(data []byte, tag CompressionTag) ([]byte, CompressionTag, error) {
	if tag == CompressionNone {
		return data, CompressionNone, nil
	}

	compressed, err := CompressPayload(data, tag)
	if err != nil {
		if IsIncompressible(err) {
			return data, CompressionNone, nil
		}
		return nil, 0, err
	}
	return compressed, tag, nil
}
