package ui

import (
	"fmt"
	"io"
	"sort"
	"sync"

	"github.com/fatih/color"
)

// Progress prints the progress of concurrently running migrations, one line per
// report. Reports from several goroutines are serialized.
type Progress struct {
	mu       sync.Mutex
	writer   io.Writer
	noColor  bool
	migrated map[string]int64
}

// NewProgress creates a progress printer
func NewProgress(w io.Writer, noColor bool) *Progress {
	return &Progress{writer: w, noColor: noColor, migrated: make(map[string]int64)}
}

// Report records that migrationID migrated n documents so far
func (p *Progress) Report(migrationID string, n int64) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.migrated[migrationID] = n
	cyan := color.New(color.FgCyan)
	if p.noColor {
		cyan.DisableColor()
	}
	cyan.Fprint(p.writer, "→ ")
	fmt.Fprintf(p.writer, "%s: %d documents\n", migrationID, n)
}

// Snapshot returns the last count reported per migration
func (p *Progress) Snapshot() map[string]int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make(map[string]int64, len(p.migrated))
	for k, v := range p.migrated {
		out[k] = v
	}
	return out
}

// Migrations returns the ids that reported at least once, sorted
func (p *Progress) Migrations() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	ids := make([]string, 0, len(p.migrated))
	for id := range p.migrated {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Success prints a green check line
func Success(w io.Writer, noColor bool, format string, args ...any) {
	status(w, noColor, color.FgGreen, "✓", format, args...)
}

// Warning prints a yellow warning line
func Warning(w io.Writer, noColor bool, format string, args ...any) {
	status(w, noColor, color.FgYellow, "!", format, args...)
}

// Failure prints a red cross line
func Failure(w io.Writer, noColor bool, format string, args ...any) {
	status(w, noColor, color.FgRed, "✗", format, args...)
}

func status(w io.Writer, noColor bool, fg color.Attribute, symbol, format string, args ...any) {
	c := color.New(fg, color.Bold)
	if noColor {
		c.DisableColor()
	}
	c.Fprintf(w, "%s %s\n", symbol, fmt.Sprintf(format, args...))
}
