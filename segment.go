package segpipe

import "sync"

var blockPool = sync.Pool{
	New: func() interface{} {
		b := make([]byte, DefaultSegmentSize)
		return &b
	},
}

func getBlock(size int) []byte {
	if size == DefaultSegmentSize {
		return *blockPool.Get().(*[]byte)
	}
	return make([]byte, size)
}

func putBlock(b []byte) {
	if cap(b) != DefaultSegmentSize {
		return
	}
	b = b[:DefaultSegmentSize]
	blockPool.Put(&b)
}

// segment is a fixed-capacity block. Bytes in [consumed, written) are
// owned by the reader once flushed, bytes in [written, len(data)) by the
// writer while it holds an allocation.
type segment struct {
	data     []byte
	written  int
	consumed int
}

func (s *segment) free() int {
	return len(s.data) - s.written
}

func (s *segment) unread() int {
	return s.written - s.consumed
}

// seal shrinks the capacity to what was written so that only the tail of
// the sequence is ever partially filled.
func (s *segment) seal() {
	s.data = s.data[:s.written]
}

func (s *segment) reset() {
	s.data = s.data[:cap(s.data)]
	s.written = 0
	s.consumed = 0
}

// arena owns the segments of one pipe. Released segments keep their slot
// on a free list and are handed out again before any new block is taken.
type arena struct {
	segs        []segment
	free        []int
	live        int
	maxLive     int
	segmentSize int
}

func (a *arena) alloc(minSize int) (int, error) {
	if a.maxLive > 0 && a.live >= a.maxLive {
		return -1, ErrAllocation
	}

	size := a.segmentSize
	if minSize > size {
		size = ((minSize + a.segmentSize - 1) / a.segmentSize) * a.segmentSize
	}

	var idx int
	if n := len(a.free); n > 0 {
		idx = a.free[n-1]
		a.free = a.free[:n-1]
	} else {
		a.segs = append(a.segs, segment{})
		idx = len(a.segs) - 1
	}

	s := &a.segs[idx]
	if cap(s.data) < size {
		putBlock(s.data)
		s.data = getBlock(size)
	}
	s.reset()
	a.live++
	return idx, nil
}

func (a *arena) release(idx int) {
	s := &a.segs[idx]
	s.reset()
	if cap(s.data) != a.segmentSize {
		// oversized blocks are not kept around
		s.data = nil
	}
	a.free = append(a.free, idx)
	a.live--
}

// reclaim drops every segment. Blocks go back to the pool only when no
// handle can still be looking at them.
func (a *arena) reclaim(recycle bool) {
	if recycle {
		for i := range a.segs {
			putBlock(a.segs[i].data)
		}
	}
	a.segs = nil
	a.free = nil
	a.live = 0
}
