package timeline

// pendingKind is the state of the boundary carry-over buffer.
type pendingKind int

const (
	noPending pendingKind = iota
	pending
)

// carryAction is what resolving the buffer against a new window did.
type carryAction int

const (
	carryNone  carryAction = iota // nothing was pending
	carryMerge                    // pending joined the window's first interval
	carryFlush                    // pending was complete and must be emitted
)

func (a carryAction) String() string {
	switch a {
	case carryMerge:
		return "merge"
	case carryFlush:
		return "flush"
	default:
		return "none"
	}
}

// carry holds at most one fragment cut off at a chunk boundary.
type carry struct {
	kind pendingKind
	frag Interval
}

func (c *carry) hold(iv Interval) {
	c.kind = pending
	c.frag = iv
}

// take empties the buffer, returning what it held.
func (c *carry) take() (Interval, bool) {
	if c.kind == noPending {
		return Interval{}, false
	}
	iv := c.frag
	c.kind = noPending
	c.frag = Interval{}
	return iv, true
}

// resolve applies the buffer to the absolute intervals of a window starting at
// chunkStart. On merge the first interval is replaced by the joined span; on
// flush the finished fragment is returned for emission and intervals are
// untouched. The buffer is always empty afterwards.
func (c *carry) resolve(intervals []Interval, chunkStart, tolerance float64) (carryAction, []Interval, Interval) {
	switch c.kind {
	case noPending:
		return carryNone, intervals, Interval{}
	case pending:
		held, _ := c.take()
		if len(intervals) > 0 && intervals[0].Start-chunkStart < tolerance {
			out := make([]Interval, len(intervals))
			copy(out, intervals)
			out[0] = Interval{Start: held.Start, End: max(held.End, intervals[0].End)}
			return carryMerge, out, Interval{}
		}
		return carryFlush, intervals, held
	}
	panic("timeline: unknown carry state")
}
