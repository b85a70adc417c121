package scanner

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/jamesainslie/sift/pkg/sift/batch"
	"github.com/jamesainslie/sift/pkg/sift/dupes"
	"github.com/jamesainslie/sift/pkg/sift/logging"
	"github.com/jamesainslie/sift/pkg/sift/match"
	"github.com/jamesainslie/sift/pkg/sift/metadata"
	"github.com/jamesainslie/sift/pkg/sift/types"
	"github.com/jamesainslie/sift/pkg/sift/walker"
)

// Scanner sequences the category scans. A Scanner runs at most one scan at
// a time; independent Scanners may run concurrently.
type Scanner struct {
	opts    Options
	matcher *match.Matcher
	log     *logging.Logger

	// flag is shared with every batch processor and walker of the running
	// scan. Cancel clears it; it is re-armed by the scan that observes it.
	flag    *batch.Flag
	running atomic.Bool
}

// New creates a Scanner. Options are validated and defaults applied.
func New(opts Options) (*Scanner, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	return &Scanner{
		opts:    opts,
		matcher: match.New(opts.Match),
		log:     opts.Logger,
		flag:    batch.NewFlag(),
	}, nil
}

// Scan runs every category and returns the summary. It reports no progress.
// On failure it returns a *ScanError carrying whatever completed before it.
func (s *Scanner) Scan(ctx context.Context) (*types.ScanSummary, error) {
	if !s.running.CompareAndSwap(false, true) {
		return nil, ErrScanInProgress
	}
	summary, err := s.run(ctx, nil)
	s.finish(summary)
	return summary, err
}

// ScanWithProgress runs every category like Scan and calls onProgress for
// each event. The scan itself runs on a separate goroutine; onProgress is
// always called on the caller's goroutine, in order, and every event has
// been delivered by the time ScanWithProgress returns.
//
// Each category produces a scanning event before it starts and a complete
// event after it finishes. A category interrupted by a cancel gets no
// complete event and is left out of the summary, and no further category
// is announced. A run that is not cancelled ends with one more event for
// AllCategoriesLabel at exactly 100 percent.
func (s *Scanner) ScanWithProgress(ctx context.Context, onProgress func(types.ProgressEvent)) (*types.ScanSummary, error) {
	if !s.running.CompareAndSwap(false, true) {
		return nil, ErrScanInProgress
	}

	// Sized for every event a run can produce, so the worker never waits on
	// the caller.
	events := make(chan types.ProgressEvent, 2*len(s.opts.Categories)+1)

	type outcome struct {
		summary *types.ScanSummary
		err     error
	}
	done := make(chan outcome, 1)

	go func() {
		summary, err := s.run(ctx, func(ev types.ProgressEvent) { events <- ev })
		close(events)
		done <- outcome{summary, err}
	}()

	for ev := range events {
		if onProgress != nil {
			onProgress(ev)
		}
	}
	out := <-done
	s.finish(out.summary)
	return out.summary, out.err
}

// Cancel asks the running scan to stop at its next checkpoint. It is
// idempotent. A cancel the running scan does not observe, because it
// arrives while no scan is running or after the last checkpoint, makes the
// next scan return an empty, cancelled summary.
func (s *Scanner) Cancel() {
	s.flag.Cancel()
}

// Running reports whether a scan is in progress.
func (s *Scanner) Running() bool {
	return s.running.Load()
}

// FormatSize renders a byte count; see types.FormatSize.
func (s *Scanner) FormatSize(bytes int64) string {
	return FormatSize(bytes)
}

// FormatSize renders a byte count with binary units and one decimal place,
// e.g. "1.5 KB". Non-positive values render as "0 B".
func FormatSize(bytes int64) string {
	return types.FormatSize(bytes)
}

// finish re-arms the flag only when the run stopped because of it, so a
// cancel that landed after the last checkpoint stays latched.
func (s *Scanner) finish(summary *types.ScanSummary) {
	if summary != nil && summary.Cancelled {
		s.flag.Activate()
	}
	s.running.Store(false)
}

// scanState holds the accumulators of one run.
type scanState struct {
	summary *types.ScanSummary
	log     *logging.Logger

	mu       sync.Mutex
	warnings []string
}

func (st *scanState) warn(path string, err error) {
	msg := fmt.Sprintf("%s: %v", path, err)
	st.log.Warn("skipped", "path", path, "err", err)
	st.mu.Lock()
	st.warnings = append(st.warnings, msg)
	st.mu.Unlock()
}

func (st *scanState) close(started time.Time) *types.ScanSummary {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.summary.Warnings = append(st.summary.Warnings, st.warnings...)
	st.summary.Elapsed = time.Since(started)
	return st.summary
}

// run executes the categories in order. emit is nil for Scan.
func (s *Scanner) run(ctx context.Context, emit func(types.ProgressEvent)) (*types.ScanSummary, error) {
	started := time.Now()
	id := uuid.NewString()
	st := &scanState{
		summary: types.NewScanSummary(id, started),
		log:     s.log.With("scan", id),
	}
	summary := st.summary
	st.log.Info("scan started", "categories", len(s.opts.Categories), "progress", emit != nil)

	var progress float64
	for i, cat := range s.opts.Categories {
		// Only the first category may announce itself and then stop.
		if i > 0 && batch.Stopped(ctx, s.flag) {
			summary.Cancelled = true
			break
		}
		if emit != nil {
			emit(types.ProgressEvent{
				Category:     cat.String(),
				Progress:     progress,
				FilesScanned: summary.TotalFiles,
				TotalSize:    summary.TotalSize,
				Status:       types.StatusScanning,
			})
		}
		if i == 0 && batch.Stopped(ctx, s.flag) {
			summary.Cancelled = true
			break
		}

		catStart := time.Now()
		result, err := s.scanCategory(ctx, st, cat)
		if err != nil {
			var se *ScanError
			if !errors.As(err, &se) {
				se = newScanError(Internal, cat, err)
			}
			se.Partial = st.close(started)
			st.log.Error("scan failed", "category", cat, "kind", se.Kind, "err", se.Err)
			return nil, se
		}
		// A category cut short is discarded and never reported complete.
		if batch.Stopped(ctx, s.flag) {
			summary.Cancelled = true
			st.log.Debug("category interrupted", "category", cat, "files", result.Count)
			break
		}
		summary.Add(result)
		progress += cat.Weight()
		st.log.Debug("category scanned", "category", cat, "files", result.Count,
			"bytes", result.TotalSize, "elapsed", time.Since(catStart))

		if emit != nil {
			count, size := result.Count, result.TotalSize
			emit(types.ProgressEvent{
				Category:      cat.String(),
				Progress:      progress,
				FilesScanned:  summary.TotalFiles,
				TotalSize:     summary.TotalSize,
				Status:        types.StatusComplete,
				CategoryFiles: &count,
				CategorySize:  &size,
			})
			if i < len(s.opts.Categories)-1 {
				s.pace(ctx)
			}
		}
	}

	if emit != nil && !summary.Cancelled {
		emit(types.ProgressEvent{
			Category:     types.AllCategoriesLabel,
			Progress:     100,
			FilesScanned: summary.TotalFiles,
			TotalSize:    summary.TotalSize,
			Status:       types.StatusComplete,
		})
	}

	st.close(started)
	st.log.Info("scan finished", "files", summary.TotalFiles, "bytes", summary.TotalSize,
		"cancelled", summary.Cancelled, "elapsed", summary.Elapsed)
	return summary, nil
}

func (s *Scanner) pace(ctx context.Context) {
	if s.opts.Pacing <= 0 {
		return
	}
	t := time.NewTimer(s.opts.Pacing)
	defer t.Stop()
	select {
	case <-t.C:
	case <-ctx.Done():
	}
}

func (s *Scanner) scanCategory(ctx context.Context, st *scanState, cat types.Category) (*types.CategoryResult, error) {
	plan, err := s.matcher.Plan(cat)
	if err != nil {
		return nil, newScanError(Internal, cat, err)
	}

	switch plan.Kind {
	case match.Query:
		return s.runQuery(ctx, st, plan)
	case match.Walk:
		return s.runWalk(ctx, st, plan)
	case match.Duplicates:
		return s.runDuplicates(ctx, st, plan)
	default:
		return nil, newScanError(Internal, cat, fmt.Errorf("unknown plan kind %s", plan.Kind))
	}
}

func (s *Scanner) processor() batch.Processor {
	return batch.Processor{Capacity: s.opts.BatchSize, Flag: s.flag}
}

// query runs the plan's query, following the fallback when the collection
// is unsupported.
func (s *Scanner) query(ctx context.Context, st *scanState, plan match.Plan) (metadata.Rows, error) {
	rows, err := s.opts.Source.Query(ctx, plan.Collection, plan.Projection, plan.Selection)
	if err == nil {
		return rows, nil
	}
	if errors.Is(err, metadata.ErrUnsupportedCollection) && plan.Fallback != nil {
		st.log.Debug("collection unsupported, using fallback", "category", plan.Category,
			"collection", plan.Collection, "selection", plan.Fallback.Selection.String())
		return s.query(ctx, st, *plan.Fallback)
	}
	return nil, newScanError(SourceUnavailable, plan.Category, err)
}

func (s *Scanner) runQuery(ctx context.Context, st *scanState, plan match.Plan) (*types.CategoryResult, error) {
	rows, err := s.query(ctx, st, plan)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	p := s.processor()
	result, err := p.Collect(ctx, rows, plan.Category)
	if err != nil {
		return nil, newScanError(SourceUnavailable, plan.Category, err)
	}
	return result, nil
}

func (s *Scanner) runWalk(ctx context.Context, st *scanState, plan match.Plan) (*types.CategoryResult, error) {
	w := &walker.Walker{
		Lister:   s.opts.Lister,
		Capacity: s.opts.BatchSize,
		Flag:     s.flag,
		MaxDepth: s.opts.MaxDepth,
		OnError:  st.warn,
	}

	result := types.NewCategoryResult(plan.Category)
	for _, root := range plan.Roots {
		if batch.Stopped(ctx, s.flag) {
			break
		}
		if err := w.Collect(ctx, root, plan.Category, result); err != nil {
			return nil, newScanError(SourceUnavailable, plan.Category, fmt.Errorf("%s: %w", root, err))
		}
	}
	return result, nil
}

func (s *Scanner) runDuplicates(ctx context.Context, st *scanState, plan match.Plan) (*types.CategoryResult, error) {
	rows, err := s.query(ctx, st, plan)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	d := &dupes.Detector{
		Floor:       s.matcher.Options().DuplicateFloor,
		Processor:   s.processor(),
		Verify:      s.opts.Verify,
		Fs:          s.opts.Fs,
		Concurrency: s.opts.VerifyWorkers,
		OnError:     st.warn,
	}
	result, err := d.Detect(ctx, rows)
	if err != nil {
		return nil, newScanError(SourceUnavailable, plan.Category, err)
	}
	return result, nil
}
