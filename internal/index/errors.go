package index

import (
	"errors"
	"fmt"
	"strings"
)

// ItemError is one rejected document of a bulk request.
type ItemError struct {
	ID     string `json:"id"`
	Status int    `json:"status"`
	Type   string `json:"type"`
	Reason string `json:"reason"`
}

// LoadError reports a bulk upsert the index refused. It is never retried.
//
// Either Status is set (the whole request failed) or Items lists the
// documents that failed while the rest were applied.
type LoadError struct {
	Index  string
	Status int
	Reason string
	Items  []ItemError
}

// Error implements the error interface.
func (e *LoadError) Error() string {
	if len(e.Items) == 0 {
		return fmt.Sprintf("bulk load into %s failed: status %d: %s", e.Index, e.Status, e.Reason)
	}
	var b strings.Builder
	fmt.Fprintf(&b, "bulk load into %s: %d documents rejected", e.Index, len(e.Items))
	for i, it := range e.Items {
		if i == 3 {
			fmt.Fprintf(&b, "; and %d more", len(e.Items)-i)
			break
		}
		fmt.Fprintf(&b, "; %s: %d %s: %s", it.ID, it.Status, it.Type, it.Reason)
	}
	return b.String()
}

// IsLoadError reports whether err is (or wraps) a LoadError.
func IsLoadError(err error) bool {
	var le *LoadError
	return errors.As(err, &le)
}

// AsLoadError extracts the LoadError from err.
func AsLoadError(err error) (*LoadError, bool) {
	var le *LoadError
	ok := errors.As(err, &le)
	return le, ok
}
