// Package fragment implements the Fragmentation Transport's receive
// side: reassembling a FrStart/FrData.../FrEnd sequence
// back into the application payload the Transport model's send side
// split apart.
package fragment

import (
	"sync"

	"ttgw-go/internal/x/mathx"
)

// chunkSize is the number of application bytes carried per FrData
// fragment.
const chunkSize = 5

type pkt struct {
	chunks [][]byte
	filled []bool
}

// Reassembler tracks one in-flight reassembly per source address.
// Concurrent access is safe, though in practice every call arrives
// from the Event Bus's single dispatch goroutine.
type Reassembler struct {
	mu      sync.Mutex
	pending map[uint16]*pkt
}

// New builds an empty Reassembler.
func New() *Reassembler {
	return &Reassembler{pending: make(map[uint16]*pkt)}
}

// Start begins reassembly of a length-byte payload from src, discarding
// any prior incomplete reassembly for that address.
func (r *Reassembler) Start(src uint16, length uint16) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := mathx.CeilDiv(length, uint16(chunkSize))
	r.pending[src] = &pkt{chunks: make([][]byte, n), filled: make([]bool, n)}
}

// Data records fragment seq of src's in-flight reassembly. A seq
// outside the fragment count, or a repeat of an already-seen seq, is
// ignored. (The bound is checked against the fragment count, not the
// byte length — the source checks against the byte length instead,
// which accepts out-of-range sequence numbers it then panics on.)
func (r *Reassembler) Data(src uint16, seq uint16, data []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.pending[src]
	if !ok || int(seq) >= len(p.chunks) || p.filled[seq] {
		return
	}
	p.chunks[seq] = append([]byte(nil), data...)
	p.filled[seq] = true
}

// End finalizes src's reassembly and returns the concatenated payload.
// ok is false if any fragment never arrived; checksum is accepted
// without verification.
func (r *Reassembler) End(src uint16, checksum [6]byte) (data []byte, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, exists := r.pending[src]
	delete(r.pending, src)
	if !exists {
		return nil, false
	}
	for _, f := range p.filled {
		if !f {
			return nil, false
		}
	}
	for _, c := range p.chunks {
		data = append(data, c...)
	}
	return data, true
}
