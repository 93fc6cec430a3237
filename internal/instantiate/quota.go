package instantiate

import (
	"errors"
	"fmt"

	"github.com/roach88/cxxada/internal/diag"
	"github.com/roach88/cxxada/internal/ir"
)

// DefaultMaxDepth bounds the length of a chain of instances each requested
// by the previous one.
const DefaultMaxDepth = 64

// DepthQuota enforces the maximum instantiation depth.
//
// Every request carries the depth of the chain that produced it: 0 for uses
// in the headers, parent + 1 for requests discovered while substituting.
// A chain that keeps producing new keys (R<N> containing R<N+1>) is cut
// here; a chain that closes on itself is caught by the containment graph.
type DepthQuota struct {
	max int
}

// NewDepthQuota returns a quota of max levels. A non-positive max selects
// DefaultMaxDepth.
func NewDepthQuota(max int) *DepthQuota {
	if max <= 0 {
		max = DefaultMaxDepth
	}
	return &DepthQuota{max: max}
}

// Check validates the depth of a request for key.
func (q *DepthQuota) Check(key ir.InstanceKey, depth int) error {
	if depth > q.max {
		return &DepthExceededError{Key: key, Depth: depth, Limit: q.max}
	}
	return nil
}

// Max returns the depth limit.
func (q *DepthQuota) Max() int { return q.max }

// DepthExceededError is returned for a request nested deeper than the limit.
type DepthExceededError struct {
	Key   ir.InstanceKey
	Depth int
	Limit int
}

// Error implements the error interface.
func (e *DepthExceededError) Error() string {
	return fmt.Sprintf("instantiation of %s exceeds maximum depth: %d > %d", e.Key, e.Depth, e.Limit)
}

// Failure converts the error for reporting.
func (e *DepthExceededError) Failure() *Failure {
	return &Failure{
		Kind:    diag.InstantiationCycle,
		Code:    diag.CodeDepth,
		Key:     e.Key,
		Message: fmt.Sprintf("instantiation depth exceeds %d; recursive template?", e.Limit),
	}
}

// IsDepthExceeded reports whether err is a DepthExceededError.
func IsDepthExceeded(err error) bool {
	var de *DepthExceededError
	return errors.As(err, &de)
}
