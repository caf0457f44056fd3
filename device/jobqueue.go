package device

import (
	"net/netip"
	"runtime"
	"sync"
)

/* Queue and item types for a pipelined packet flow.
 *
 * No goroutine consumes these queues and the device does not create
 * them: EncryptAndSend and the receive path seal and open packets
 * inline on the caller's goroutine, so there is no worker pool.
 *
 * Queue items are pooled via WaitPool (device/pool.go) to keep the
 * hot path allocation-free; zeroOutPointers clears references before
 * an item returns to its pool so the GC doesn't retain completed
 * packets through a stale pool slot.
 */

// BatchSize is the size used for the pooled item batches. Real UDP
// batching (GSO/recvmmsg) is out of scope.
const BatchSize = 128

type QuOutItem struct {
	buf     *[MaxMessageSize]byte
	packet  []byte
	nonce   uint64
	keypair *Keypair
	peer    *Peer
}

func (i *QuOutItem) zeroOutPointers() {
	i.buf = nil
	i.packet = nil
	i.keypair = nil
	i.peer = nil
}

type QuOutItemsSynced struct {
	items []*QuOutItem
	sync.Mutex
}

type QuInItem struct {
	buf      *[MaxMessageSize]byte
	packet   []byte
	counter  uint64
	keypair  *Keypair
	endpoint netip.AddrPort
}

func (i *QuInItem) zeroOutPointers() {
	i.buf = nil
	i.packet = nil
	i.keypair = nil
	i.endpoint = netip.AddrPort{}
}

type QuInItemsSynced struct {
	items []*QuInItem
	sync.Mutex
}

type QuHandshake struct {
	buf      *[MaxMessageSize]byte
	packet   []byte
	msgType  uint32
	endpoint netip.AddrPort
}

const (
	QuOutSize       = 1024
	QuInSize        = 1024
	QuHandshakeSize = 1024
	// PreallocatedBufsPerPool disables WaitPool's max-count gate,
	// allowing unbounded growth instead of blocking producers.
	PreallocatedBufsPerPool = 0
)

// quOut is a channel of QuOutItemsSynced awaiting encryption,
// ref-counted using wg so that any number of producers can keep it
// open: every extra writer calls wg.Add(1)/wg.Done(), and the channel
// closes once the last reference is released.
type quOut struct {
	c  chan *QuOutItemsSynced
	wg sync.WaitGroup
}

func newQuOut() *quOut {
	q := &quOut{c: make(chan *QuOutItemsSynced, QuOutSize)}
	q.wg.Add(1)
	go func() {
		q.wg.Wait()
		close(q.c)
	}()
	return q
}

type quIn struct {
	c  chan *QuInItemsSynced
	wg sync.WaitGroup
}

func newQuIn() *quIn {
	q := &quIn{c: make(chan *QuInItemsSynced, QuInSize)}
	q.wg.Add(1)
	go func() {
		q.wg.Wait()
		close(q.c)
	}()
	return q
}

type quHandshake struct {
	c  chan QuHandshake
	wg sync.WaitGroup
}

func newQuHandshake() *quHandshake {
	q := &quHandshake{c: make(chan QuHandshake, QuHandshakeSize)}
	q.wg.Add(1)
	go func() {
		q.wg.Wait()
		close(q.c)
	}()
	return q
}

// quOutFlush drains abandoned outbound items back to their pools when
// GC'd, for call sites that find it awkward to track the queue's
// lifetime explicitly.
type quOutFlush struct {
	c chan *QuOutItemsSynced
}

func newQuOutFlush(d *Device) *quOutFlush {
	q := &quOutFlush{c: make(chan *QuOutItemsSynced, QuOutSize)}
	runtime.SetFinalizer(q, d.flushQuOut)
	return q
}

func (d *Device) flushQuOut(q *quOutFlush) {
	for {
		select {
		case items := <-q.c:
			items.Lock()
			for _, item := range items.items {
				d.PutMsgBuf(item.buf)
				d.PutOutItem(item)
			}
			items.Unlock()
			d.PutOutItemsSynced(items)
		default:
			return
		}
	}
}

type quInFlush struct {
	c chan *QuInItemsSynced
}

func newQuInFlush(d *Device) *quInFlush {
	q := &quInFlush{c: make(chan *QuInItemsSynced, QuInSize)}
	runtime.SetFinalizer(q, d.flushQuIn)
	return q
}

func (d *Device) flushQuIn(q *quInFlush) {
	for {
		select {
		case items := <-q.c:
			items.Lock()
			for _, item := range items.items {
				d.PutMsgBuf(item.buf)
				d.PutInboundElement(item)
			}
			items.Unlock()
			d.PutInItemsSynced(items)
		default:
			return
		}
	}
}
