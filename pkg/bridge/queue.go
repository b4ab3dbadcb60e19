package bridge

import "sync"

// rxQueueSize is the capacity of the UART receive queue.
const rxQueueSize = PacketSize * 5

// byteQueue is a bounded single-producer/single-consumer byte ring.
// Bytes which do not fit are dropped by the producer.
type byteQueue struct {
	lock sync.Mutex
	buf  []byte
	head int
	used int
}

func newByteQueue(size int) *byteQueue {
	return &byteQueue{buf: make([]byte, size)}
}

// Put appends as many bytes as fit and returns that count.
func (q *byteQueue) Put(p []byte) int {
	q.lock.Lock()
	defer q.lock.Unlock()
	n := 0
	for _, b := range p {
		if q.used == len(q.buf) {
			break
		}
		q.buf[(q.head+q.used)%len(q.buf)] = b
		q.used++
		n++
	}
	return n
}

// Get moves up to len(p) bytes into p.
func (q *byteQueue) Get(p []byte) int {
	q.lock.Lock()
	defer q.lock.Unlock()
	n := 0
	for n < len(p) && q.used > 0 {
		p[n] = q.buf[q.head]
		q.head = (q.head + 1) % len(q.buf)
		q.used--
		n++
	}
	return n
}

// Used returns the number of queued bytes.
func (q *byteQueue) Used() int {
	q.lock.Lock()
	defer q.lock.Unlock()
	return q.used
}

// Reset discards all queued bytes and returns how many were dropped.
func (q *byteQueue) Reset() int {
	q.lock.Lock()
	defer q.lock.Unlock()
	n := q.used
	q.head, q.used = 0, 0
	return n
}
