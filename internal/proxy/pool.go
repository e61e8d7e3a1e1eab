package proxy

import "sync"

// chunkPool recycles the fixed-size read buffers used while framing
// messages.
type chunkPool struct {
	pool sync.Pool
}

func newChunkPool(size int) *chunkPool {
	p := &chunkPool{}
	p.pool.New = func() any {
		b := make([]byte, size)
		return &b
	}
	return p
}

func (p *chunkPool) Get() *[]byte {
	return p.pool.Get().(*[]byte)
}

func (p *chunkPool) Put(b *[]byte) {
	p.pool.Put(b)
}
