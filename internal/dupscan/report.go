package dupscan

import (
	"errors"
	"sync"
)

// Report collects the non-fatal failures and notices produced while a scan
// or duplicate search keeps going. It is safe for concurrent use.
type Report struct {
	mu      sync.Mutex
	errs    []error
	notices []string
}

// NewReport creates an empty report.
func NewReport() *Report {
	return &Report{}
}

// Add records a per-entry failure. Nil errors and nil reports are ignored.
func (r *Report) Add(err error) {
	if r == nil || err == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.errs = append(r.errs, err)
}

// Notice records an informational message, such as a no-op tag change.
func (r *Report) Notice(msg string) {
	if r == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notices = append(r.notices, msg)
}

// Errors returns a copy of the collected failures in the order they were added.
func (r *Report) Errors() []error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]error(nil), r.errs...)
}

// Notices returns a copy of the collected notices.
func (r *Report) Notices() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.notices...)
}

// Count returns the number of failures matching kind (any failure if kind is nil).
func (r *Report) Count(kind error) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	if kind == nil {
		return len(r.errs)
	}
	n := 0
	for _, err := range r.errs {
		if errors.Is(err, kind) {
			n++
		}
	}
	return n
}

// Err joins all collected failures into a single error, or returns nil.
func (r *Report) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return errors.Join(r.errs...)
}
