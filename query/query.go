// Package query implements the query controller: the
// init/submit/finalize state machine that ties the schema, storage
// manager, fragment writer, tile cache, and the read/write pipelines
// together into the single object callers interact with. It plays the
// role sneller's plan/exec.go Execute does for a query plan: the one
// place that owns the lifecycle and drives every other package.
package query

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shubhampachori12110095/TileDB/fragment"
	"github.com/shubhampachori12110095/TileDB/qerror"
	"github.com/shubhampachori12110095/TileDB/schema"
	"github.com/shubhampachori12110095/TileDB/storage"
	"github.com/shubhampachori12110095/TileDB/tilecache"
)

// Type distinguishes a read Query from a write Query; a Query is
// fixed to one type for its entire lifetime.
type Type int

const (
	Read Type = iota
	Write
)

// Status is the Query lifecycle state.
type Status int32

const (
	Uninitialized Status = iota
	InProgress
	Completed
	Incomplete
	Failed
)

func (s Status) String() string {
	switch s {
	case InProgress:
		return "in-progress"
	case Completed:
		return "completed"
	case Incomplete:
		return "incomplete"
	case Failed:
		return "failed"
	default:
		return "uninitialized"
	}
}

// Layout selects how cells are ordered across a Submit call's
// buffers: flat ROW_MAJOR/COL_MAJOR order over the subarray, the
// schema's tiled GLOBAL_ORDER, or UNORDERED (sparse-only; the controller sorts
// on the caller's behalf).
type Layout int

const (
	RowMajor Layout = iota
	ColMajor
	GlobalOrder
	Unordered
)

func toCellOrder(l Layout) schema.CellOrder {
	if l == ColMajor {
		return schema.ColMajor
	}
	return schema.RowMajor
}

// Buffer is one caller-owned buffer pair bound to an attribute (or,
// for sparse arrays, to schema.CoordsName): Values always, Offsets
// only for a variable-size attribute's segment table.
type Buffer struct {
	Values  []byte
	Offsets []byte
}

var nextThreadID uint64

// Query is the single stateful object a caller drives through
// Init -> (Submit)+ -> Finalize.
type Query struct {
	typ        Type
	sch        *schema.Schema
	arrayURI   string
	mgr        storage.Manager
	lister     storage.FragmentLister
	cache      *tilecache.Cache
	compressor string

	mu       sync.Mutex
	status   int32
	layout   Layout
	subarray schema.Rectangle
	haveSub  bool
	buffers  map[string]*Buffer
	overflow map[string]bool

	fragments  []*fragment.Metadata
	cellCursor int

	writer *fragment.Writer

	callback func(error)
}

// NewRead builds an uninitialized read Query against arrayURI. lister
// resolves the array's published fragments; mgr serves the tile byte
// ranges those fragments describe.
func NewRead(sch *schema.Schema, mgr storage.Manager, lister storage.FragmentLister, arrayURI string) *Query {
	return &Query{
		typ:      Read,
		sch:      sch,
		arrayURI: arrayURI,
		mgr:      mgr,
		lister:   lister,
		cache:    tilecache.New(mgr),
		buffers:  make(map[string]*Buffer),
		overflow: make(map[string]bool),
	}
}

// NewWrite builds an uninitialized write Query that will build one new
// fragment under arrayURI, compressed with compressorName ("zstd" or
// "" for none).
func NewWrite(sch *schema.Schema, mgr storage.Manager, arrayURI, compressorName string) *Query {
	return &Query{
		typ:        Write,
		sch:        sch,
		arrayURI:   arrayURI,
		mgr:        mgr,
		compressor: compressorName,
		buffers:    make(map[string]*Buffer),
		overflow:   make(map[string]bool),
	}
}

func (q *Query) SetLayout(l Layout)              { q.layout = l }
func (q *Query) SetSubarray(r schema.Rectangle)  { q.subarray = r.Clone(); q.haveSub = true }
func (q *Query) SetCallback(cb func(error))      { q.callback = cb }
func (q *Query) SetBuffer(name string, buf *Buffer) {
	q.buffers[name] = buf
}

// Status returns the Query's current lifecycle state. Safe to call
// concurrently with Submit/AsyncSubmit: status is read with an atomic
// load.
func (q *Query) Status() Status { return Status(atomic.LoadInt32(&q.status)) }

// Overflow reports whether name's buffer was the limiting factor in
// the most recent Submit. It is only meaningful once the Query has
// reached a terminal status for this submission (Completed,
// Incomplete, or Failed); it reads false beforehand.
func (q *Query) Overflow(name string) bool {
	switch q.Status() {
	case Completed, Incomplete, Failed:
	default:
		return false
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.overflow[name]
}

// Init validates the Query's configuration and, for a read, resolves
// and loads the array's fragment metadata. It is idempotent: fragments
// are loaded only on the first call, and a write Query's fragment
// writer is created only on the first call.
func (q *Query) Init(ctx context.Context) error {
	if q.sch == nil {
		return qerror.New(qerror.ConfigError, "query: no schema configured")
	}
	if err := q.sch.Validate(); err != nil {
		return qerror.Wrap(qerror.ConfigError, err, "query: invalid schema")
	}
	if !q.haveSub {
		q.subarray = q.sch.Domain()
		q.haveSub = true
	}
	if q.subarray.Empty() {
		return qerror.New(qerror.SubarrayError, "query: subarray is empty or inverted")
	}
	if !q.sch.Domain().Contains(q.subarray) {
		return qerror.New(qerror.SubarrayError, "query: subarray exceeds the array domain")
	}

	if q.typ == Write {
		return q.initWrite(ctx)
	}
	return q.initRead(ctx)
}

func (q *Query) initWrite(ctx context.Context) error {
	if q.sch.Sparse {
		if q.layout == RowMajor || q.layout == ColMajor {
			return qerror.New(qerror.ConfigError, "query: sparse writes do not support ROW_MAJOR/COL_MAJOR layout")
		}
		if _, ok := q.buffers[schema.CoordsName]; !ok {
			return qerror.New(qerror.ConfigError, "query: sparse write requires a %s buffer", schema.CoordsName)
		}
	} else {
		if q.layout == Unordered {
			return qerror.New(qerror.ConfigError, "query: dense writes do not support UNORDERED layout")
		}
		if !tileAligned(q.sch, q.subarray) {
			return qerror.New(qerror.ConfigError, "query: dense write subarray must align to tile boundaries")
		}
	}
	for name, buf := range q.buffers {
		if name == schema.CoordsName {
			continue
		}
		ai := q.sch.AttrIndex(name)
		if ai < 0 {
			return qerror.New(qerror.SchemaMismatch, "query: unknown attribute %q", name)
		}
		attr := q.sch.Attributes[ai]
		if attr.Variable() && buf.Offsets == nil {
			return qerror.New(qerror.ConfigError, "query: attribute %q is variable-sized and needs an offsets buffer", name)
		}
		if attr.Variable() && q.sch.Sparse == false && q.layout != GlobalOrder {
			return qerror.New(qerror.ConfigError, "query: variable-size dense attributes require GLOBAL_ORDER writes")
		}
	}
	if q.writer == nil {
		id := atomic.AddUint64(&nextThreadID, 1)
		name := fragment.NewName(id, time.Now().UnixMilli(), fragment.NextSeq())
		q.writer = fragment.Create(q.sch, q.arrayURI, name, q.compressor)
		q.writer.SetManager(q.mgr)
	}
	return nil
}

func (q *Query) initRead(ctx context.Context) error {
	if !q.sch.Sparse && (q.layout == RowMajor || q.layout == ColMajor) {
		want := q.subarrayCellCount()
		for name, buf := range q.buffers {
			ai := q.sch.AttrIndex(name)
			if ai < 0 {
				continue
			}
			attr := q.sch.Attributes[ai]
			if attr.Variable() {
				continue
			}
			if int64(len(buf.Values)) < want*int64(attr.CellSize()) {
				return qerror.New(qerror.ConfigError, "query: buffer for %q must hold the whole subarray for a one-shot ROW_MAJOR/COL_MAJOR dense read", name)
			}
		}
	}
	if q.fragments != nil {
		return nil
	}
	if q.lister == nil {
		return qerror.New(qerror.ConfigError, "query: read Query has no fragment lister")
	}
	uris, err := q.lister.ListFragments(ctx, q.arrayURI)
	if err != nil {
		return qerror.Wrap(qerror.IOError, err, "query: list fragments for %s", q.arrayURI)
	}
	frags := make([]*fragment.Metadata, 0, len(uris))
	for _, u := range uris {
		m, err := fragment.Load(ctx, q.mgr, u)
		if err != nil {
			return qerror.Wrap(qerror.IOError, err, "query: load fragment %s", u)
		}
		frags = append(frags, m)
	}
	sort.Slice(frags, func(i, j int) bool { return frags[i].Sequence < frags[j].Sequence })
	q.fragments = frags
	return nil
}

// Submit runs one synchronous step of the Query: for a
// write it stages the currently bound buffers into the in-progress
// fragment as new tiles; for a read it copies as many cells as the
// bound buffers can hold, starting from where the previous Submit
// left off. Submit may be called more than once on a write Query to
// append more tiles before Finalize, and more than once on a read
// Query while Status reports Incomplete.
func (q *Query) Submit(ctx context.Context) error {
	atomic.StoreInt32(&q.status, int32(InProgress))
	var err error
	if q.typ == Write {
		err = q.submitWrite(ctx)
	} else {
		err = q.submitRead(ctx)
	}
	if err == nil {
		atomic.StoreInt32(&q.status, int32(Completed))
		return nil
	}
	if qerror.Recoverable(err) {
		atomic.StoreInt32(&q.status, int32(Incomplete))
		return err
	}
	atomic.StoreInt32(&q.status, int32(Failed))
	if q.typ == Write && q.writer != nil {
		// a FAILED write automatically rolls back.
		_ = q.writer.Abort(ctx)
	}
	return err
}

// AsyncSubmit submits the Query on the storage manager's thread pool
// and invokes cb (and, if set, the Query's own callback) with the
// result once it completes. The calling goroutine does not block.
func (q *Query) AsyncSubmit(ctx context.Context, cb func(error)) {
	q.mgr.SubmitAsync(func() {
		err := q.Submit(ctx)
		if cb != nil {
			cb(err)
		}
		if q.callback != nil {
			q.callback(err)
		}
	})
}

// Finalize persists and publishes a write Query's fragment; it is a
// no-op for a read Query and idempotent for a write one.
func (q *Query) Finalize(ctx context.Context) error {
	if q.typ != Write {
		return nil
	}
	if q.writer == nil {
		return qerror.New(qerror.ConfigError, "query: Finalize called before Init")
	}
	if _, err := q.writer.Finalize(ctx); err != nil {
		return qerror.Wrap(qerror.IOError, err, "query: finalize fragment")
	}
	return nil
}

// ClearFragments rolls back a write Query's in-progress fragment
// without publishing it. Calling it after Finalize is a no-op.
func (q *Query) ClearFragments(ctx context.Context) error {
	if q.typ != Write || q.writer == nil {
		return nil
	}
	return q.writer.Abort(ctx)
}

func (q *Query) subarrayCellCount() int64 {
	n := int64(1)
	for i := range q.subarray.Low {
		n *= q.subarray.High[i] - q.subarray.Low[i] + 1
	}
	return n
}

func tileAligned(sch *schema.Schema, r schema.Rectangle) bool {
	for i, d := range sch.Dimensions {
		if (r.Low[i]-d.Low)%d.TileExtent != 0 {
			return false
		}
		if r.High[i] != d.High && (r.High[i]-d.Low+1)%d.TileExtent != 0 {
			return false
		}
	}
	return true
}

func rectCells(r schema.Rectangle) int64 {
	n := int64(1)
	for i := range r.Low {
		n *= r.High[i] - r.Low[i] + 1
	}
	return n
}

// tilesInSubarray enumerates every schema tile coordinate intersecting
// sub, in ascending global tile order.
func tilesInSubarray(sch *schema.Schema, sub schema.Rectangle) [][]int64 {
	lowTile := sch.TileIndex(sub.Low)
	highTile := sch.TileIndex(sub.High)
	ndim := sch.NDim()
	var out [][]int64
	coord := make([]int64, ndim)
	var walk func(d int)
	walk = func(d int) {
		if d == ndim {
			out = append(out, append([]int64(nil), coord...))
			return
		}
		for v := lowTile[d]; v <= highTile[d]; v++ {
			coord[d] = v
			walk(d + 1)
		}
	}
	walk(0)
	sort.Slice(out, func(i, j int) bool { return sch.FlatTileIndex(out[i]) < sch.FlatTileIndex(out[j]) })
	return out
}
