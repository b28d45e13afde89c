// Copyright 2026 The Heapscope Authors
// SPDX-License-Identifier: Apache-2.0

package remoteheap

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"github.com/heapscope/heapscope/lib/addr"
	"github.com/heapscope/heapscope/lib/gcphase"
	"github.com/heapscope/heapscope/lib/layout"
	"github.com/heapscope/heapscope/lib/memio"
	"github.com/heapscope/heapscope/lib/session"
)

// SchemeKind names a supported collector variant. The set is closed:
// adding a variant means teaching the registry its reconciliation
// rules, not registering a plugin.
type SchemeKind int

const (
	// MarkSweep is a non-moving mark-sweep collector with a mark
	// bitmap, free chunks, and dark matter.
	MarkSweep SchemeKind = iota
)

// String returns the scheme name used in profiles, flags, and logs.
func (k SchemeKind) String() string {
	switch k {
	case MarkSweep:
		return "mark-sweep"
	default:
		return fmt.Sprintf("SchemeKind(%d)", int(k))
	}
}

// ParseSchemeKind resolves a scheme name.
func ParseSchemeKind(s string) (SchemeKind, error) {
	switch s {
	case "mark-sweep":
		return MarkSweep, nil
	default:
		return 0, fmt.Errorf("unknown heap scheme %q", s)
	}
}

// Scheme is the collector-variant capability of a registry.
type Scheme interface {
	// Kind identifies the variant.
	Kind() SchemeKind

	// IsForwardingAddress reports whether the word at a is a
	// forwarding pointer left behind by a relocating collector.
	IsForwardingAddress(a addr.Address) bool
}

// RegionSource supplies the descriptor of the managed heap region.
// Implementations re-read the target's own descriptor on every call;
// the registry decides what of it to trust.
type RegionSource interface {
	// HeapRegion returns the current region descriptor. Before the
	// target has initialized its heap, it returns ErrRegionNotReady.
	HeapRegion() (addr.Region, error)
}

// Config carries the registry dependencies.
type Config struct {
	// Kind selects the collector variant. The zero value is
	// MarkSweep.
	Kind SchemeKind

	// Memory reads target memory. Required.
	Memory memio.Reader

	// Oracle reports the collection phase, cycle counters, and mark
	// colors. Required.
	Oracle gcphase.Oracle

	// Regions supplies the heap region descriptor. Required.
	Regions RegionSource

	// Layout describes the target's memory formats. Nil means
	// layout.Default().
	Layout *layout.Profile

	// Lock is the session's inspection lock. Required; the registry
	// asserts it is held rather than acquiring it.
	Lock *session.Lock

	// Logger defaults to slog.Default().
	Logger *slog.Logger

	// EvictionHorizon is the number of epochs a tracked reference may
	// go without client access before its identity is forgotten. Zero
	// disables eviction.
	EvictionHorizon uint64
}

// Registry tracks references into one target heap and reconciles
// their statuses at each halt. It implements Scheme and
// session.Refresher.
type Registry struct {
	kind    SchemeKind
	mem     memio.Reader
	oracle  gcphase.Oracle
	regions RegionSource
	profile *layout.Profile
	lock    *session.Lock
	logger  *slog.Logger
	horizon uint64

	region      addr.Region
	regionFound bool

	// objects holds LIVE and UNREACHABLE references; freeSpace holds
	// FREE and DARK. Never both for one origin.
	objects   *refMap
	freeSpace *refMap

	// Pass gates, in the original counter roles: lastUpdateEpoch
	// makes a pass per epoch, lastCompleted arms the completed-cycle
	// sweep, lastLiveness arms the once-per-cycle liveness
	// determination.
	lastUpdateEpoch uint64
	lastCompleted   uint64
	lastLiveness    uint64

	// Last observed oracle state, for reporting only.
	obsPhase     gcphase.Phase
	obsStarted   uint64
	obsCompleted uint64

	passes uint64
	totals tally
}

var (
	_ Scheme            = (*Registry)(nil)
	_ session.Refresher = (*Registry)(nil)
)

// New builds a Registry from cfg.
func New(cfg Config) (*Registry, error) {
	var errs []error
	if cfg.Kind != MarkSweep {
		errs = append(errs, fmt.Errorf("unsupported scheme kind %d", int(cfg.Kind)))
	}
	if cfg.Memory == nil {
		errs = append(errs, errors.New("memory reader is required"))
	}
	if cfg.Oracle == nil {
		errs = append(errs, errors.New("phase oracle is required"))
	}
	if cfg.Regions == nil {
		errs = append(errs, errors.New("region source is required"))
	}
	if cfg.Lock == nil {
		errs = append(errs, errors.New("inspection lock is required"))
	}
	if cfg.Layout != nil {
		if err := cfg.Layout.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("layout profile: %w", err))
		}
	}
	if err := errors.Join(errs...); err != nil {
		return nil, fmt.Errorf("remoteheap config: %w", err)
	}

	profile := cfg.Layout
	if profile == nil {
		profile = layout.Default()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Registry{
		kind:      cfg.Kind,
		mem:       cfg.Memory,
		oracle:    cfg.Oracle,
		regions:   cfg.Regions,
		profile:   profile,
		lock:      cfg.Lock,
		logger:    logger,
		horizon:   cfg.EvictionHorizon,
		objects:   newRefMap("object"),
		freeSpace: newRefMap("free-space"),
	}, nil
}

// Kind identifies the collector variant.
func (g *Registry) Kind() SchemeKind {
	return g.kind
}

// IsForwardingAddress reports whether the word at a is a forwarding
// pointer. Mark-sweep never relocates objects, so the answer is
// always false.
func (g *Registry) IsForwardingAddress(addr.Address) bool {
	return false
}

// Region returns the managed heap region and whether it has been
// discovered yet.
func (g *Registry) Region() (addr.Region, bool) {
	g.mustHoldLock("Region")
	return g.region, g.regionFound
}

// Contains reports whether a falls inside the managed region. False
// before region discovery. Callers use it to pre-check the region
// precondition of the probing operations.
func (g *Registry) Contains(a addr.Address) bool {
	g.mustHoldLock("Contains")
	return g.regionFound && g.region.Contains(a)
}

// ObjectStatusAt classifies whatever currently occupies a, from
// target memory alone. It never consults or changes the identity
// maps. A failed read is reported as DEAD with a warning: callers of
// a pure query get a conservative answer, not an error path.
//
// Panics with a PreconditionError if the lock is not held or a is
// outside the managed region.
func (g *Registry) ObjectStatusAt(a addr.Address) Status {
	g.mustHoldLock("ObjectStatusAt")
	g.mustContain("ObjectStatusAt", a)

	status, err := g.classifyAt(a)
	if err != nil {
		g.logger.Warn("classification read failed; reporting DEAD",
			"origin", a.String(),
			"error", err,
		)
		return Dead
	}
	return status
}

// MakeReference returns a reference to the live object at a. The
// existing identity is returned if the object map already tracks a;
// otherwise the address is probed and a new LIVE reference is created
// on the spot. Returns nil with a nil error when a holds no live
// object; that is a normal outcome. The error is non-nil only when
// the target could not be read.
//
// Panics with a PreconditionError if the lock is not held or a is
// outside the managed region.
func (g *Registry) MakeReference(a addr.Address) (*Reference, error) {
	g.mustHoldLock("MakeReference")
	g.mustContain("MakeReference", a)

	if ref := g.objects.lookup(a, g.lastUpdateEpoch); ref != nil {
		if ref.Status() == Live {
			return ref, nil
		}
		// Tracked but unreachable: not available as a live object.
		return nil, nil
	}
	if g.freeSpace.peek(a) != nil {
		// The map is authoritative while it holds the address: free
		// space cannot simultaneously be a live object.
		return nil, nil
	}

	status, err := g.classifyAt(a)
	if err != nil {
		return nil, fmt.Errorf("probing %s: %w", a, err)
	}
	if status != Live {
		return nil, nil
	}
	ref := newReference(a, Live)
	g.insertObject(ref)
	g.totals.createdLive++
	return ref, nil
}

// MakeQuasiReference returns a reference to the quasi-object at a: a
// free chunk, dark matter, or an unreachable object. The existing
// identity is returned if either map already tracks a as a
// quasi-object; otherwise the address is probed and a new FREE, DARK,
// or UNREACHABLE reference is created. Returns nil with a nil error
// when a holds no quasi-object.
//
// Panics with a PreconditionError if the lock is not held or a is
// outside the managed region.
func (g *Registry) MakeQuasiReference(a addr.Address) (*Reference, error) {
	g.mustHoldLock("MakeQuasiReference")
	g.mustContain("MakeQuasiReference", a)

	if ref := g.freeSpace.lookup(a, g.lastUpdateEpoch); ref != nil {
		return ref, nil
	}
	if ref := g.objects.lookup(a, g.lastUpdateEpoch); ref != nil {
		if ref.Status() == Unreachable {
			return ref, nil
		}
		// Tracked as a live object: not a quasi-object.
		return nil, nil
	}

	status, err := g.classifyAt(a)
	if err != nil {
		return nil, fmt.Errorf("probing %s: %w", a, err)
	}
	switch status {
	case Free:
		ref := newReference(a, Free)
		g.insertFreeSpace(ref)
		g.totals.createdFree++
		return ref, nil
	case Dark:
		ref := newReference(a, Dark)
		g.insertFreeSpace(ref)
		g.totals.createdDark++
		return ref, nil
	case Unreachable:
		ref := newReference(a, Unreachable)
		g.insertObject(ref)
		g.totals.createdUnreachable++
		return ref, nil
	default:
		return nil, nil
	}
}

// References returns every tracked reference from both maps in
// ascending origin order. The slice is a snapshot; the references are
// the live tracked identities.
func (g *Registry) References() []*Reference {
	g.mustHoldLock("References")
	refs := g.objects.values()
	refs = append(refs, g.freeSpace.values()...)
	sort.Slice(refs, func(i, j int) bool { return refs[i].Origin() < refs[j].Origin() })
	return refs
}

// insertObject adds a reference to the object map, enforcing that no
// address is ever tracked by both maps.
func (g *Registry) insertObject(ref *Reference) {
	if g.freeSpace.peek(ref.Origin()) != nil {
		panic(&PreconditionError{Op: "insertObject", Origin: ref.Origin(),
			Detail: "origin already tracked by the free-space map"})
	}
	g.objects.insert(ref, g.lastUpdateEpoch)
}

// insertFreeSpace adds a reference to the free-space map, enforcing
// that no address is ever tracked by both maps.
func (g *Registry) insertFreeSpace(ref *Reference) {
	if g.objects.peek(ref.Origin()) != nil {
		panic(&PreconditionError{Op: "insertFreeSpace", Origin: ref.Origin(),
			Detail: "origin already tracked by the object map"})
	}
	g.freeSpace.insert(ref, g.lastUpdateEpoch)
}
