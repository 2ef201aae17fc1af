package portal

import (
	"context"
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/listpull-cli/internal/resilience"
)

// Chunker splits an oversized geographic query into sub-queries that each
// stay at or below the portal's result cap, runs them strictly sequentially
// against one Session, and concatenates the extracts.
type Chunker struct {
	session    Session
	cap        int
	maxRetries int
	maxDepth   int
}

// ChunkerOption configures a Chunker.
type ChunkerOption func(*Chunker)

// WithMaxRetries sets the per-chunk retry bound (default 3 attempts).
func WithMaxRetries(n int) ChunkerOption {
	return func(c *Chunker) {
		if n > 0 {
			c.maxRetries = n
		}
	}
}

// WithMaxBisectDepth bounds the re-probe-and-bisect recursion (default 4).
func WithMaxBisectDepth(n int) ChunkerOption {
	return func(c *Chunker) {
		if n > 0 {
			c.maxDepth = n
		}
	}
}

// NewChunker creates a Chunker over the given session with result cap cap.
func NewChunker(session Session, cap int, opts ...ChunkerOption) *Chunker {
	c := &Chunker{
		session:    session,
		cap:        cap,
		maxRetries: 3,
		maxDepth:   4,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// PlanChunks partitions q into contiguous sub-queries using a single-pass
// proportional estimate: unitsPerChunk = ceil(len(units) * cap / total).
// When total <= cap the query runs as-is. The partitions are disjoint and
// their union equals the input unit list.
func PlanChunks(q Query, total, cap int) []Query {
	if total <= cap || len(q.Units) <= 1 {
		return []Query{q}
	}

	perChunk := (len(q.Units)*cap + total - 1) / total
	if perChunk < 1 {
		perChunk = 1
	}

	var chunks []Query
	for start := 0; start < len(q.Units); start += perChunk {
		end := min(start+perChunk, len(q.Units))
		chunks = append(chunks, q.WithUnits(q.Units[start:end]))
	}
	return chunks
}

// PartialError reports a chunked query that could not be completed. Merged
// holds the rows gathered before the failure so nothing is silently lost;
// callers must treat the extract as incomplete.
type PartialError struct {
	Merged      *Extract
	FailedUnits []string
	Cause       error
}

func (e *PartialError) Error() string {
	return fmt.Sprintf("portal: partial result: %d rows gathered, %d units failed (%s): %v",
		len(e.Merged.Rows), len(e.FailedUnits), summarizeUnits(e.FailedUnits), e.Cause)
}

func (e *PartialError) Unwrap() error { return e.Cause }

func summarizeUnits(units []string) string {
	if len(units) <= 5 {
		return strings.Join(units, ",")
	}
	return strings.Join(units[:5], ",") + ",..."
}

// Run probes the query, partitions it, and executes every chunk in order.
// On repeated chunk failure it aborts with a *PartialError rather than
// returning incomplete data as if it were whole.
func (c *Chunker) Run(ctx context.Context, q Query) (*Extract, error) {
	log := zap.L().With(
		zap.String("component", "portal.chunker"),
		zap.String("state", q.State),
		zap.Int("units", len(q.Units)),
	)

	total, err := c.session.ProbeCount(ctx, q)
	if err != nil {
		return nil, eris.Wrap(err, "chunker: probe full query")
	}

	chunks := PlanChunks(q, total, c.cap)
	log.Info("query planned",
		zap.Int("estimated_total", total),
		zap.Int("result_cap", c.cap),
		zap.Int("chunks", len(chunks)),
	)

	merged := &Extract{}
	for i, chunk := range chunks {
		ext, err := c.runChunk(ctx, chunk, 0)
		if err != nil {
			return nil, &PartialError{
				Merged:      merged,
				FailedUnits: remainingUnits(chunks[i:]),
				Cause:       err,
			}
		}
		if err := appendExtract(merged, ext); err != nil {
			return nil, eris.Wrapf(err, "chunker: merge chunk %d", i+1)
		}
		log.Debug("chunk complete",
			zap.Int("chunk", i+1),
			zap.Int("rows", len(ext.Rows)),
		)
	}

	log.Info("query complete", zap.Int("rows", len(merged.Rows)))
	return merged, nil
}

// runChunk executes one chunk with bounded retry. A result that hits the
// cap (or is flagged truncated) means the proportional estimate was wrong
// for this chunk; it is re-probed and bisected instead of trusted.
func (c *Chunker) runChunk(ctx context.Context, q Query, depth int) (*Extract, error) {
	cfg := resilience.DefaultRetryConfig()
	cfg.MaxAttempts = c.maxRetries
	cfg.OnRetry = resilience.RetryLogger("portal", "execute")

	ext, err := resilience.DoVal(ctx, cfg, func(ctx context.Context) (*Extract, error) {
		return c.session.Execute(ctx, q)
	})
	if err != nil {
		return nil, eris.Wrapf(err, "chunker: execute chunk of %d units", len(q.Units))
	}

	if (ext.Truncated || len(ext.Rows) >= c.cap) && len(q.Units) > 1 {
		if depth >= c.maxDepth {
			return nil, eris.Errorf("chunker: chunk of %d units still truncated at bisect depth %d", len(q.Units), depth)
		}
		zap.L().Warn("chunk at result cap, bisecting",
			zap.Int("units", len(q.Units)),
			zap.Int("rows", len(ext.Rows)),
			zap.Int("depth", depth),
		)
		return c.bisect(ctx, q, depth)
	}

	return ext, nil
}

func (c *Chunker) bisect(ctx context.Context, q Query, depth int) (*Extract, error) {
	mid := len(q.Units) / 2
	merged := &Extract{}
	for _, half := range []Query{q.WithUnits(q.Units[:mid]), q.WithUnits(q.Units[mid:])} {
		ext, err := c.runChunk(ctx, half, depth+1)
		if err != nil {
			return nil, err
		}
		if err := appendExtract(merged, ext); err != nil {
			return nil, err
		}
	}
	return merged, nil
}

// appendExtract concatenates src onto dst, verifying column agreement so
// extracts from different chunks can't be zipped together misaligned.
func appendExtract(dst, src *Extract) error {
	if len(dst.Columns) == 0 {
		dst.Columns = src.Columns
	} else if !equalColumns(dst.Columns, src.Columns) {
		return eris.Errorf("extract columns changed mid-query: %v vs %v", dst.Columns, src.Columns)
	}
	dst.Rows = append(dst.Rows, src.Rows...)
	return nil
}

func equalColumns(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func remainingUnits(chunks []Query) []string {
	var units []string
	for _, ch := range chunks {
		units = append(units, ch.Units...)
	}
	return units
}
