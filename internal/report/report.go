// Package report renders the human-readable benchmark output: the run
// header, periodic progress lines and the final boxed summary.
package report

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/qail-lang/pipebench/internal/stats"
)

const boxWidth = 42

// Header describes the run configuration printed before timing starts.
type Header struct {
	Title     string
	Addr      string
	User      string
	Mode      string
	Total     int
	BatchSize int
	Batches   int
}

// Summary is the final result of a run.
type Summary struct {
	Title      string
	Elapsed    time.Duration
	Total      int
	Successful int
}

// Throughput is the configured total over elapsed time. It uses Total, not
// Successful, so a run with truncated batches still reports the rate it was
// configured for; callers that care compare Successful against Total.
func (s Summary) Throughput() float64 {
	return stats.Throughput(s.Total, s.Elapsed)
}

// PerQueryNs is elapsed nanoseconds divided across the configured total.
func (s Summary) PerQueryNs() int64 {
	return stats.PerQuery(s.Elapsed, s.Total).Nanoseconds()
}

// Renderer writes report sections to w.
type Renderer struct {
	w io.Writer
}

func New(w io.Writer) *Renderer {
	return &Renderer{w: w}
}

func (r *Renderer) Connecting(addr, user string) {
	fmt.Fprintf(r.w, "🔌 Connecting to %s as %s\n", addr, user)
}

func (r *Renderer) Header(h Header) {
	fmt.Fprintf(r.w, "🚀 %s\n", h.Title)
	fmt.Fprintln(r.w, strings.Repeat("=", len(h.Title)+3))
	fmt.Fprintf(r.w, "Total queries:    %15d\n", h.Total)
	fmt.Fprintf(r.w, "Batch size:       %15d\n", h.BatchSize)
	fmt.Fprintf(r.w, "Batches:          %15d\n", h.Batches)
	if h.Mode != "" {
		fmt.Fprintf(r.w, "Mode:             %15s\n", h.Mode)
	}
	fmt.Fprintln(r.w)
}

// Step prints a completed setup step.
func (r *Renderer) Step(msg string) {
	fmt.Fprintf(r.w, "✅ %s\n", msg)
}

func (r *Renderer) Executing(total int) {
	fmt.Fprintf(r.w, "\n📊 Executing %d queries...\n\n", total)
}

// Progress prints one progress line for the batch just drained.
func (r *Renderer) Progress(snap stats.Snapshot, batch, batches int) {
	eta := "∞"
	if snap.ETAKnown {
		eta = fmt.Sprintf("%.0fs", snap.ETA)
	}
	fmt.Fprintf(r.w, "   %3dM queries | %8.0f q/s | ETA: %s | Batch %d/%d\n",
		snap.Successful/1_000_000,
		snap.Throughput,
		eta,
		batch,
		batches)
}

func (r *Renderer) Summary(s Summary) {
	border := strings.Repeat("─", boxWidth)

	fmt.Fprintln(r.w, "\n📈 FINAL RESULTS:")
	fmt.Fprintf(r.w, "┌%s┐\n", border)
	fmt.Fprintf(r.w, "│ %-*s │\n", boxWidth-2, s.Title)
	fmt.Fprintf(r.w, "├%s┤\n", border)
	fmt.Fprintf(r.w, "│ Total Time:        %20.1fs │\n", s.Elapsed.Seconds())
	fmt.Fprintf(r.w, "│ Queries/Second:    %20.0f │\n", s.Throughput())
	fmt.Fprintf(r.w, "│ Per Query:         %17dns │\n", s.PerQueryNs())
	fmt.Fprintf(r.w, "│ Successful:        %20d │\n", s.Successful)
	fmt.Fprintf(r.w, "└%s┘\n", border)
}
