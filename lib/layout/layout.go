// Copyright 2026 The Heapscope Authors
// SPDX-License-Identifier: Apache-2.0

// Package layout describes how an inspected target formats the memory
// it manages: header geometry, the marker words that distinguish free
// chunks and dark matter from ordinary objects, and the zap pattern
// written over reclaimed space in debug builds.
//
// A Profile is data, not code: targets differ only in their constants,
// so a profile file is enough to teach heapscope a new target. Profile
// files are JSONC (JSON with comments) because the values are magic
// numbers that deserve an explanation next to them.
package layout

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/tidwall/jsonc"

	"github.com/heapscope/heapscope/lib/addr"
	"github.com/heapscope/heapscope/lib/memio"
)

// Word is a 64-bit target word that marshals as a 0x-prefixed hex
// string. Profile files write marker constants in hex; plain JSON
// numbers lose that readability and round large values through
// float64 in some tooling.
type Word uint64

// MarshalJSON renders the word as a quoted 0x-prefixed hex string.
func (w Word) MarshalJSON() ([]byte, error) {
	return json.Marshal(fmt.Sprintf("%#x", uint64(w)))
}

// UnmarshalJSON accepts a quoted 0x-prefixed hex string or a bare
// JSON number.
func (w *Word) UnmarshalJSON(data []byte) error {
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		s = strings.TrimSpace(s)
		base := 10
		if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
			base = 16
			s = s[2:]
		}
		value, err := strconv.ParseUint(s, base, 64)
		if err != nil {
			return fmt.Errorf("parsing word %q: %w", s, err)
		}
		*w = Word(value)
		return nil
	}
	var value uint64
	if err := json.Unmarshal(data, &value); err != nil {
		return err
	}
	*w = Word(value)
	return nil
}

// Profile holds the constants needed to recognize what occupies a heap
// address. Every object and quasi-object starts with the same header
// shape: word 0 carries the kind (a marker constant for quasi-objects,
// anything else for an ordinary object's type descriptor), word 1
// carries the total size in bytes.
type Profile struct {
	// Name identifies the profile in logs and the attach report.
	Name string `json:"name"`

	// WordSize is the target word size in bytes. Only 8 is supported.
	WordSize uint64 `json:"word_size"`

	// HeaderWords is the number of words in every header: at least
	// the kind word and the size word.
	HeaderWords uint64 `json:"header_words"`

	// MinObjectSize is the smallest size in bytes of an ordinary
	// object or a free chunk. Dark matter may be smaller, down to a
	// bare header.
	MinObjectSize uint64 `json:"min_object_size"`

	// FreeChunkTag is the kind word marking a free chunk.
	FreeChunkTag Word `json:"free_chunk_tag"`

	// DarkMatterTag is the kind word marking dark matter.
	DarkMatterTag Word `json:"dark_matter_tag"`

	// ZapWord is the pattern the collector writes over reclaimed
	// memory in debug builds. A header starting with it is dead space.
	ZapWord Word `json:"zap_word"`
}

// Default returns the profile of the simulated mark-sweep target. It
// is also the base that LoadFile overlays a profile file onto.
func Default() *Profile {
	return &Profile{
		Name:          "simulated-ms-64",
		WordSize:      8,
		HeaderWords:   2,
		MinObjectSize: 24,
		FreeChunkTag:  0x4652454543484e4b, // "FREECHNK" (little-endian "KNHCEERF" in a hex dump)
		DarkMatterTag: 0x4441524b4d545452, // "DARKMTTR"
		ZapWord:       0xdeaddeaddeaddead,
	}
}

// LoadFile reads a JSONC profile file, overlays it on Default, and
// validates the result.
func LoadFile(path string) (*Profile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading layout profile: %w", err)
	}
	profile := Default()
	if err := json.Unmarshal(jsonc.ToJSON(data), profile); err != nil {
		return nil, fmt.Errorf("parsing layout profile %s: %w", path, err)
	}
	if err := profile.Validate(); err != nil {
		return nil, fmt.Errorf("layout profile %s: %w", path, err)
	}
	return profile, nil
}

// Validate checks the profile for coherent geometry and distinct
// marker words.
func (p *Profile) Validate() error {
	var errs []error

	if p.WordSize != memio.WordSize {
		errs = append(errs, fmt.Errorf("word_size is %d; only %d-byte words are supported", p.WordSize, memio.WordSize))
	}
	if p.HeaderWords < 2 {
		errs = append(errs, fmt.Errorf("header_words is %d; need at least 2 (kind word and size word)", p.HeaderWords))
	}
	if p.WordSize > 0 {
		if p.MinObjectSize < p.HeaderWords*p.WordSize {
			errs = append(errs, fmt.Errorf("min_object_size %d is smaller than the header itself (%d)",
				p.MinObjectSize, p.HeaderWords*p.WordSize))
		}
		if p.MinObjectSize%p.WordSize != 0 {
			errs = append(errs, fmt.Errorf("min_object_size %d is not word-aligned", p.MinObjectSize))
		}
	}

	markers := map[string]Word{
		"free_chunk_tag":  p.FreeChunkTag,
		"dark_matter_tag": p.DarkMatterTag,
		"zap_word":        p.ZapWord,
	}
	for name, value := range markers {
		if value == 0 {
			errs = append(errs, fmt.Errorf("%s must be non-zero", name))
		}
	}
	if p.FreeChunkTag == p.DarkMatterTag {
		errs = append(errs, fmt.Errorf("free_chunk_tag and dark_matter_tag are both %#x", uint64(p.FreeChunkTag)))
	}
	if p.FreeChunkTag == p.ZapWord || p.DarkMatterTag == p.ZapWord {
		errs = append(errs, fmt.Errorf("zap_word %#x collides with a marker tag", uint64(p.ZapWord)))
	}

	return errors.Join(errs...)
}

// HeaderBytes returns the header size in bytes.
func (p *Profile) HeaderBytes() uint64 {
	return p.HeaderWords * p.WordSize
}

// Header is the decoded first two words at an origin.
type Header struct {
	// Kind is word 0: a marker constant, a zap pattern, or an
	// ordinary object's type-descriptor word.
	Kind uint64

	// Size is word 1: the occupant's total size in bytes, header
	// included. Meaningless when Kind is not a recognized occupant.
	Size uint64
}

// ReadHeader reads the header at origin.
func (p *Profile) ReadHeader(r memio.Reader, origin addr.Address) (Header, error) {
	kind, err := r.ReadWord(origin)
	if err != nil {
		return Header{}, fmt.Errorf("reading kind word at %s: %w", origin, err)
	}
	size, err := r.ReadWord(origin.Plus(p.WordSize))
	if err != nil {
		return Header{}, fmt.Errorf("reading size word at %s: %w", origin, err)
	}
	return Header{Kind: kind, Size: size}, nil
}

// Kind is the occupant pattern recognized at an origin.
type Kind int

const (
	// KindNone: the bytes match no recognized occupant (zapped,
	// cleared, or incoherent).
	KindNone Kind = iota

	// KindObject: a plausible ordinary object header.
	KindObject

	// KindFree: a free chunk header.
	KindFree

	// KindDark: a dark matter header.
	KindDark
)

// String returns the pattern name.
func (k Kind) String() string {
	switch k {
	case KindNone:
		return "none"
	case KindObject:
		return "object"
	case KindFree:
		return "free-chunk"
	case KindDark:
		return "dark-matter"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// Classify decides which occupant pattern a header matches. limit is
// the number of bytes available from the origin to whatever boundary
// the occupant must fit under (normally the allocation watermark):
// a size word pointing past it is incoherent, and classification
// falls back to KindNone rather than trusting it.
func (p *Profile) Classify(h Header, limit uint64) Kind {
	aligned := h.Size%p.WordSize == 0
	fits := h.Size <= limit

	switch h.Kind {
	case uint64(p.FreeChunkTag):
		if aligned && fits && h.Size >= p.MinObjectSize {
			return KindFree
		}
		return KindNone
	case uint64(p.DarkMatterTag):
		// Dark matter is exactly the space too small for a free
		// chunk; it only needs to cover its own header.
		if aligned && fits && h.Size >= p.HeaderBytes() {
			return KindDark
		}
		return KindNone
	case uint64(p.ZapWord), 0:
		return KindNone
	default:
		if aligned && fits && h.Size >= p.MinObjectSize {
			return KindObject
		}
		return KindNone
	}
}

// IsZapped reports whether the header starts with the zap pattern.
func (p *Profile) IsZapped(h Header) bool {
	return h.Kind == uint64(p.ZapWord)
}
