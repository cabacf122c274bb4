// Package batch redacts many documents concurrently with a bounded number of
// workers. Each document is redacted independently; a failure in one never
// affects the others.
package batch

import (
	"context"
	"runtime"
	"time"

	"golang.org/x/sync/errgroup"

	"transcript-pii-redactor/internal/pii"
)

// Redactor is the subset of *pii.Engine used by the pool.
type Redactor interface {
	Redact(ctx context.Context, text string) (pii.Result, error)
}

// Document is one unit of work.
type Document struct {
	ID   string
	Text string
}

// Outcome is the result for one Document. Err is set when the engine refused
// the document (fail-closed) or the context was cancelled before it ran.
type Outcome struct {
	ID       string
	Result   pii.Result
	Err      error
	Duration time.Duration
}

// Pool runs documents through a Redactor.
type Pool struct {
	redactor Redactor
	workers  int
	// OnDone, if set, is called from worker goroutines as each document
	// finishes. It must be safe for concurrent use.
	OnDone func(Outcome)
}

// New returns a Pool with the given worker count; values below 1 select
// GOMAXPROCS.
func New(r Redactor, workers int) *Pool {
	if workers < 1 {
		workers = runtime.GOMAXPROCS(0)
	}
	return &Pool{redactor: r, workers: workers}
}

// Workers returns the configured concurrency.
func (p *Pool) Workers() int { return p.workers }

// Run redacts docs and returns one Outcome per document in input order.
// Cancelling ctx stops scheduling; documents not yet started get ctx.Err().
func (p *Pool) Run(ctx context.Context, docs []Document) []Outcome {
	out := make([]Outcome, len(docs))
	var g errgroup.Group
	g.SetLimit(p.workers)

	for i, doc := range docs {
		if err := ctx.Err(); err != nil {
			out[i] = Outcome{ID: doc.ID, Err: err}
			continue
		}
		g.Go(func() error {
			start := time.Now()
			res, err := p.redactor.Redact(pii.WithDocumentID(ctx, doc.ID), doc.Text)
			out[i] = Outcome{ID: doc.ID, Result: res, Err: err, Duration: time.Since(start)}
			if p.OnDone != nil {
				p.OnDone(out[i])
			}
			return nil
		})
	}
	_ = g.Wait()
	return out
}

// Summary aggregates a batch run.
type Summary struct {
	Documents   int
	Redacted    int
	Unavailable int
	Failed      int
	Refused     int
	Entities    int
	Labels      map[string]int
}

// Summarize counts outcomes by status and entities by label.
func Summarize(outcomes []Outcome) Summary {
	s := Summary{Documents: len(outcomes), Labels: map[string]int{}}
	for _, o := range outcomes {
		if o.Err != nil {
			s.Refused++
			continue
		}
		switch o.Result.Status {
		case pii.StatusRedacted:
			s.Redacted++
		case pii.StatusUnavailable:
			s.Unavailable++
		case pii.StatusFailed:
			s.Failed++
		}
		s.Entities += o.Result.Count
		for label, n := range o.Result.Labels {
			s.Labels[label] += n
		}
	}
	return s
}
