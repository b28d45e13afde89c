// Copyright 2026 The Heapscope Authors
// SPDX-License-Identifier: Apache-2.0

package remoteheap

import (
	"fmt"
	"sync/atomic"

	"github.com/heapscope/heapscope/lib/addr"
)

// Reference names one particular occupant of a heap address for as
// long as that occupant exists. The origin never changes; the status
// only moves forward along the legal edges and ends at Dead.
//
// Status is safe to read from any goroutine. All mutation happens
// inside the registry, under the inspection lock.
type Reference struct {
	origin addr.Address
	status atomic.Int32
}

func newReference(origin addr.Address, initial Status) *Reference {
	r := &Reference{origin: origin}
	r.status.Store(int32(initial))
	return r
}

// Origin returns the address this reference was created at.
func (r *Reference) Origin() addr.Address {
	return r.origin
}

// Status returns the current lifecycle status.
func (r *Reference) Status() Status {
	return Status(r.status.Load())
}

// String renders the reference for logs: "LIVE ref @0x10040".
func (r *Reference) String() string {
	return fmt.Sprintf("%s ref @%s", r.Status(), r.origin)
}

// transition moves the reference to the given status. Re-asserting the
// current status is a no-op; any edge outside the legal relation is a
// caller bug and panics. Must be called under the inspection lock,
// which is why a plain store suffices.
func (r *Reference) transition(op string, to Status) {
	from := r.Status()
	if from == to {
		return
	}
	if !canTransition(from, to) {
		panic(&PreconditionError{Op: op, Origin: r.origin,
			Detail: fmt.Sprintf("illegal status transition %s -> %s", from, to)})
	}
	r.status.Store(int32(to))
}

// die moves the reference to Dead. Idempotent.
func (r *Reference) die(op string) {
	r.transition(op, Dead)
}
