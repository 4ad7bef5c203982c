package segpipe

// segmentRing is the ordered sequence of live segments, as a ring of arena
// indices. It grows when full.
type segmentRing struct {
	data     []int
	readPos  int
	writePos int
}

// newSegmentRing creates a ring able to hold size indices before growing.
// The actual buffer is size+1 to distinguish between full and empty states.
func newSegmentRing(size int) *segmentRing {
	if size < 1 {
		size = 1
	}
	return &segmentRing{
		data: make([]int, size+1),
	}
}

func (r *segmentRing) len() int {
	if r.writePos >= r.readPos {
		return r.writePos - r.readPos
	}
	return (len(r.data) - r.readPos) + r.writePos
}

// empty returns true if the ring holds no segment.
func (r *segmentRing) empty() bool {
	return r.readPos == r.writePos
}

// full returns true if one more push needs to grow the ring.
func (r *segmentRing) full() bool {
	return (r.writePos+1)%len(r.data) == r.readPos
}

// at returns the i-th index counting from the head.
func (r *segmentRing) at(i int) int {
	return r.data[(r.readPos+i)%len(r.data)]
}

func (r *segmentRing) front() int {
	return r.data[r.readPos]
}

func (r *segmentRing) back() int {
	return r.data[(r.writePos-1+len(r.data))%len(r.data)]
}

func (r *segmentRing) push(idx int) {
	if r.full() {
		r.grow()
	}
	r.data[r.writePos] = idx
	r.writePos = (r.writePos + 1) % len(r.data)
}

func (r *segmentRing) popFront() int {
	idx := r.data[r.readPos]
	r.readPos = (r.readPos + 1) % len(r.data)
	return idx
}

func (r *segmentRing) popBack() int {
	r.writePos = (r.writePos - 1 + len(r.data)) % len(r.data)
	return r.data[r.writePos]
}

func (r *segmentRing) reset() {
	r.readPos = 0
	r.writePos = 0
}

func (r *segmentRing) grow() {
	n := r.len()
	data := make([]int, 2*len(r.data))

	if r.readPos+n <= len(r.data) {
		copy(data, r.data[r.readPos:r.readPos+n])
	} else {
		firstChunk := len(r.data) - r.readPos
		copy(data, r.data[r.readPos:])
		copy(data[firstChunk:n], r.data[:n-firstChunk])
	}

	r.data = data
	r.readPos = 0
	r.writePos = n
}
