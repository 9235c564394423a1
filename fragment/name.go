// Package fragment implements the immutable, timestamped append unit
// of an array: naming and atomic publication, on-disk metadata, and
// the fragment writer. It plays the same role
// in this repository that ion/blockfmt plays in sneller -- the unit
// that is incrementally built, then made visible with one atomic
// rename.
package fragment

import (
	"fmt"
	"strconv"
	"strings"
	"sync/atomic"

	"github.com/google/uuid"
)

// Name is a fragment's directory name within an array, either
// in-progress (dot-prefixed) or published.
type Name string

var seqCounter uint64

// NextSeq returns a process-wide strictly increasing counter used to
// totally order fragments created within the same millisecond. A
// millisecond timestamp alone (the ".__<thread-id>_<ms>" name) is too
// coarse to break ties between two fragments finalized back to back,
// which would otherwise make the most-recent-wins dedup rule
// non-deterministic; the monotonic counter is embedded alongside the
// timestamp for exactly that reason.
func NextSeq() uint64 { return atomic.AddUint64(&seqCounter, 1) }

// NewName builds the in-progress name for a fragment being built by
// threadID at nowMS milliseconds since the epoch
// (".__<thread-id>_<ms-timestamp>"), extended with a monotonic
// sequence number (NextSeq) that is the actual creation-order
// tie-breaker, and a short uuid suffix so that two processes racing to
// create a fragment with the same thread id and millisecond never
// collide on disk -- sneller's own path-naming conventions lean on
// random suffixes for the same reason (e.g. temp upload keys).
func NewName(threadID uint64, nowMS int64, seq uint64) Name {
	suffix := uuid.New().String()[:8]
	return Name(fmt.Sprintf(".__%d_%d_%d_%s", threadID, nowMS, seq, suffix))
}

// InProgress reports whether n is still an unpublished (dot-prefixed)
// fragment name.
func (n Name) InProgress() bool {
	return strings.HasPrefix(string(n), ".")
}

// Publish strips the leading dot, producing the name a fragment is
// renamed to when its build completes successfully. Calling Publish
// on an already-published name is a no-op (finalize is idempotent).
func (n Name) Publish() Name {
	return Name(strings.TrimPrefix(string(n), "."))
}

func (n Name) parts() ([]string, error) {
	s := strings.TrimPrefix(string(n), ".")
	s = strings.TrimPrefix(s, "__")
	parts := strings.SplitN(s, "_", 4)
	if len(parts) < 4 {
		return nil, fmt.Errorf("fragment: malformed name %q", n)
	}
	return parts, nil
}

// Timestamp extracts the ms-since-epoch component embedded in the
// name: fragments have a total order by creation timestamp, encoded
// directly in the fragment name.
func (n Name) Timestamp() (int64, error) {
	parts, err := n.parts()
	if err != nil {
		return 0, err
	}
	ms, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		return 0, fmt.Errorf("fragment: malformed name %q: %w", n, err)
	}
	return ms, nil
}

// Seq extracts the monotonic sequence number embedded in the name,
// used as the authoritative creation-order key (see NextSeq).
func (n Name) Seq() (uint64, error) {
	parts, err := n.parts()
	if err != nil {
		return 0, err
	}
	seq, err := strconv.ParseUint(parts[2], 10, 64)
	if err != nil {
		return 0, fmt.Errorf("fragment: malformed name %q: %w", n, err)
	}
	return seq, nil
}
