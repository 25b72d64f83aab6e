package magcal

import "github.com/relabs-tech/magnet_tracker/internal/vec"

// Fixed-capacity rings backing the Earth-field window and the residual
// history. Oldest entries are overwritten once full.

type ringVec3 struct {
	buf  []vec.Vector3
	head int
	full bool
}

func newRingVec3(capacity int) ringVec3 {
	return ringVec3{buf: make([]vec.Vector3, capacity)}
}

func (r *ringVec3) push(v vec.Vector3) {
	r.buf[r.head] = v
	r.head++
	if r.head == len(r.buf) {
		r.head = 0
		r.full = true
	}
}

func (r *ringVec3) len() int {
	if r.full {
		return len(r.buf)
	}
	return r.head
}

func (r *ringVec3) each(fn func(v vec.Vector3)) {
	n := r.len()
	for i := 0; i < n; i++ {
		fn(r.buf[i])
	}
}

type ringFloat struct {
	buf  []float64
	head int
	full bool
}

func newRingFloat(capacity int) ringFloat {
	return ringFloat{buf: make([]float64, capacity)}
}

func (r *ringFloat) push(v float64) {
	r.buf[r.head] = v
	r.head++
	if r.head == len(r.buf) {
		r.head = 0
		r.full = true
	}
}

func (r *ringFloat) len() int {
	if r.full {
		return len(r.buf)
	}
	return r.head
}

func (r *ringFloat) mean() float64 {
	n := r.len()
	if n == 0 {
		return 0
	}
	var sum float64
	for i := 0; i < n; i++ {
		sum += r.buf[i]
	}
	return sum / float64(n)
}
