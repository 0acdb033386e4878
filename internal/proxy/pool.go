package proxy

import "sync"

// RelayBufferSize is the largest chunk a pump reads, and so the largest
// payload a single data event carries.
const RelayBufferSize = 32 * 1024

var relayBuffers = sync.Pool{
	New: func() any {
		b := make([]byte, RelayBufferSize)
		return &b
	},
}

// getRelayBuffer returns a pooled RelayBufferSize read buffer.
func getRelayBuffer() *[]byte {
	return relayBuffers.Get().(*[]byte)
}

func putRelayBuffer(b *[]byte) {
	relayBuffers.Put(b)
}
