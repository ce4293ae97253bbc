// Package report collects the paths a sync run touches and prints the run's
// outcome.
package report

import (
	"fmt"
	"io"
	"sort"
	"sync"

	"github.com/clean-dependency-project/itchmirror/internal/plan"
)

const (
	SuccessMarker = "✅"
	FailureMarker = "❌"
)

// Report is the set of planned paths of one run. It is safe for concurrent use.
type Report struct {
	mu    sync.Mutex
	paths map[string]plan.Role
}

// New returns an empty report.
func New() *Report {
	return &Report{paths: make(map[string]plan.Role)}
}

// Add records a planned path. Recording the same path twice keeps one entry.
func (r *Report) Add(p plan.Path) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.paths[p.Path]; !ok {
		r.paths[p.Path] = p.Role
	}
}

// Len returns the number of distinct paths.
func (r *Report) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.paths)
}

// Paths returns the recorded paths sorted lexicographically.
func (r *Report) Paths() []string {
	r.mu.Lock()
	out := make([]string, 0, len(r.paths))
	for p := range r.paths {
		out = append(out, p)
	}
	r.mu.Unlock()
	sort.Strings(out)
	return out
}

// CountByRole returns how many paths were planned per role.
func (r *Report) CountByRole() map[plan.Role]int {
	r.mu.Lock()
	defer r.mu.Unlock()
	counts := make(map[plan.Role]int)
	for _, role := range r.paths {
		counts[role]++
	}
	return counts
}

// Print writes the sorted path list, one per line.
func (r *Report) Print(w io.Writer) error {
	for _, p := range r.Paths() {
		if _, err := fmt.Fprintln(w, p); err != nil {
			return err
		}
	}
	return nil
}

// PrintSuccess writes the success marker.
func PrintSuccess(w io.Writer) {
	_, _ = fmt.Fprintln(w, SuccessMarker)
}

// PrintFailure writes the failure marker followed by the error.
func PrintFailure(w io.Writer, err error) {
	_, _ = fmt.Fprintln(w, FailureMarker)
	if err != nil {
		_, _ = fmt.Fprintln(w, err)
	}
}
