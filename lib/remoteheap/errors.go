// Copyright 2026 The Heapscope Authors
// SPDX-License-Identifier: Apache-2.0

package remoteheap

import (
	"errors"
	"fmt"

	"github.com/heapscope/heapscope/lib/addr"
)

// ErrRegionNotReady is returned by a RegionSource whose target has not
// initialized its heap yet. Region discovery treats it as "try again
// at the next halt", not as a failure.
var ErrRegionNotReady = errors.New("heap region not ready")

// PreconditionError reports a caller bug: an operation invoked without
// its preconditions (inspection lock not held, address outside the
// managed region, illegal status transition). It is delivered by
// panic, never returned, so the violation is attributable at the call
// site instead of being silently suppressed.
type PreconditionError struct {
	// Op is the violated operation.
	Op string

	// Origin is the address involved, if any.
	Origin addr.Address

	// Detail describes the violated precondition.
	Detail string
}

func (e *PreconditionError) Error() string {
	if e.Origin.IsZero() {
		return fmt.Sprintf("remoteheap: %s: %s", e.Op, e.Detail)
	}
	return fmt.Sprintf("remoteheap: %s at %s: %s", e.Op, e.Origin, e.Detail)
}

func (g *Registry) mustHoldLock(op string) {
	if !g.lock.Held() {
		panic(&PreconditionError{Op: op, Detail: "inspection lock not held"})
	}
}

func (g *Registry) mustContain(op string, a addr.Address) {
	if !g.regionFound {
		panic(&PreconditionError{Op: op, Origin: a, Detail: "heap region not discovered yet"})
	}
	if !g.region.Contains(a) {
		panic(&PreconditionError{Op: op, Origin: a,
			Detail: fmt.Sprintf("address outside the managed region %s", g.region)})
	}
}
