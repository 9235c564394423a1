package query

import (
	"context"

	"github.com/shubhampachori12110095/TileDB/arrayread"
	"github.com/shubhampachori12110095/TileDB/ordered"
	"github.com/shubhampachori12110095/TileDB/qerror"
	"github.com/shubhampachori12110095/TileDB/schema"
	"github.com/shubhampachori12110095/TileDB/sparseread"
)

// computePlan runs the read pipeline's compute stages fresh for every
// Submit call. Recomputing is deterministic and cheap relative to the
// I/O the copy stage performs; only cellCursor, owned by the Query,
// carries state across an INCOMPLETE Query's resubmissions.
func (q *Query) computePlan(ctx context.Context) (*sparseread.Plan, error) {
	if q.sch.Sparse {
		lay := sparseread.Layout{Global: true}
		switch q.layout {
		case RowMajor:
			lay = sparseread.Layout{Order: schema.RowMajor}
		case ColMajor:
			lay = sparseread.Layout{Order: schema.ColMajor}
		}
		return sparseread.Compute(ctx, q.cache, q.sch, q.subarray, q.fragments, lay)
	}
	return arrayread.Compute(q.subarray, q.sch, q.fragments)
}

// submitRead drains as many cells as every bound buffer can hold,
// starting at q.cellCursor. Buffer-overflow reconciliation: each
// buffer's copy call is bounded only by its own capacity (-1
// cell budget), the smallest cell count any buffer actually managed
// to write becomes the authoritative progress for this submission --
// a buffer that wrote more simply has that excess silently
// overwritten on the next Submit, since the cursor never advances
// past the minimum.
func (q *Query) submitRead(ctx context.Context) error {
	if len(q.buffers) == 0 {
		return qerror.New(qerror.ConfigError, "query: Submit: no buffers registered")
	}
	plan, err := q.computePlan(ctx)
	if err != nil {
		return err
	}
	total := plan.TotalCells()

	minWritten := int64(-1)
	for name, buf := range q.buffers {
		var written int
		var overflow bool
		var cerr error
		if name == schema.CoordsName {
			if !q.sch.Sparse {
				return qerror.New(qerror.ConfigError, "query: %s buffer is only meaningful for a sparse read", schema.CoordsName)
			}
			written, overflow, cerr = sparseread.CoordsOut(ctx, q.cache, plan, q.fragments, q.cellCursor, -1, buf.Values)
		} else {
			ai := q.sch.AttrIndex(name)
			if ai < 0 {
				return qerror.New(qerror.SchemaMismatch, "query: unknown attribute %q", name)
			}
			attr := q.sch.Attributes[ai]
			if attr.Variable() {
				written, overflow, cerr = sparseread.VarOut(ctx, q.cache, plan, q.fragments, name, q.cellCursor, -1, buf.Offsets, buf.Values)
			} else {
				written, overflow, cerr = sparseread.AttrOut(ctx, q.cache, plan, q.fragments, name, int64(attr.CellSize()), q.cellCursor, -1, buf.Values)
			}
		}
		if cerr != nil {
			return cerr
		}
		q.mu.Lock()
		q.overflow[name] = overflow
		q.mu.Unlock()
		if minWritten == -1 || int64(written) < minWritten {
			minWritten = int64(written)
		}
	}
	if minWritten < 0 {
		minWritten = 0
	}
	q.cellCursor += int(minWritten)

	if int64(q.cellCursor) < total {
		return qerror.New(qerror.BufferOverflow, "query: copied %d of %d cells this submission", q.cellCursor, total)
	}

	if !q.sch.Sparse && (q.layout == RowMajor || q.layout == ColMajor) {
		st := ordered.New(q.sch, q.subarray, toCellOrder(q.layout))
		for name, buf := range q.buffers {
			ai := q.sch.AttrIndex(name)
			if ai < 0 {
				continue
			}
			attr := q.sch.Attributes[ai]
			if attr.Variable() {
				continue
			}
			out, terr := st.FromGlobal(int64(attr.CellSize()), buf.Values)
			if terr != nil {
				return terr
			}
			copy(buf.Values, out)
		}
	}
	return nil
}
