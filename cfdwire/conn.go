package cfdwire

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"

	"github.com/cfdlabs/cfd-core/cfderr"
)

// sendQueueSize bounds the per-peer outgoing channel (spec §5
// "per-peer send channels are bounded; slow peers cause send-side
// blocking for that peer only"), mirroring peer.go's fixed-capacity
// sendQueue rather than lnd/queue's unbounded ConcurrentQueue (used
// instead for the unbounded, short-lived per-contract protocol
// channel — see coordinator/router.go).
const sendQueueSize = 50

type outgoingMsg struct {
	raw  []byte
	done chan struct{}
}

// Conn is one authenticated, framed connection to a counterparty.
// Grounded on peer.go's conn/sendQueue/readHandler/writeHandler split:
// Send accepts messages from any goroutine and feeds a bounded channel
// drained by writeHandler, while readHandler delivers decrypted frames
// to Inbound.
type Conn struct {
	netConn net.Conn
	codec   *handshakeCodec

	// RemoteStatic is the counterparty's Noise static public key,
	// learned from the handshake (responder side) or supplied by the
	// caller out-of-band (initiator side, spec §6).
	RemoteStatic []byte

	sendQueue chan outgoingMsg
	// Inbound delivers each successfully decrypted frame's plaintext
	// (raw JSON bytes, not decoded here); callers type-switch on the
	// embedded Kind field
	// after unmarshaling into MakerToTaker or TakerToMaker as
	// appropriate for their role.
	Inbound chan []byte

	quit        chan struct{}
	wg          sync.WaitGroup
	disconnect  int32
	bytesSent   uint64
	bytesRecvd  uint64
}

// DialMaker opens an outbound connection to a maker as the Noise_IK
// initiator (the taker always dials out, spec §6 "the responder's
// long-term public key is known to the initiator out-of-band").
func DialMaker(addr string, local StaticKeypair, remoteStatic []byte) (*Conn, error) {
	netConn, err := net.Dial("tcp", addr)
	if err != nil {
		return nil, cfderr.New(cfderr.KindIO, fmt.Errorf("dial %s: %w", addr, err))
	}

	raw := &rawFramer{rw: netConn}
	codec, err := handshakeInitiator(raw, local, remoteStatic, nil)
	if err != nil {
		netConn.Close()
		return nil, err
	}

	return newConn(netConn, codec, remoteStatic), nil
}

// AcceptTaker completes the responder side of the handshake on an
// already-accepted inbound TCP connection (the maker's listener calls
// this once per accepted socket).
func AcceptTaker(netConn net.Conn, local StaticKeypair) (*Conn, error) {
	raw := &rawFramer{rw: netConn}
	codec, remoteStatic, err := handshakeResponder(raw, local, nil)
	if err != nil {
		netConn.Close()
		return nil, err
	}
	return newConn(netConn, codec, remoteStatic), nil
}

func newConn(netConn net.Conn, codec *handshakeCodec, remoteStatic []byte) *Conn {
	c := &Conn{
		netConn:      netConn,
		codec:        codec,
		RemoteStatic: remoteStatic,
		sendQueue:    make(chan outgoingMsg, sendQueueSize),
		Inbound:      make(chan []byte, sendQueueSize),
		quit:         make(chan struct{}),
	}
	c.wg.Add(2)
	go c.readHandler()
	go c.writeHandler()
	return c
}

// Send enqueues msg for delivery, blocking if the bounded send queue
// is full (spec §5 back-pressure). msg must already be one of
// MakerToTaker or TakerToMaker.
func (c *Conn) Send(msg interface{}) error {
	if atomic.LoadInt32(&c.disconnect) != 0 {
		return cfderr.Newf(cfderr.KindIO, "connection to %v is closed", c.netConn.RemoteAddr())
	}
	raw, err := json.Marshal(msg)
	if err != nil {
		return cfderr.New(cfderr.KindIO, fmt.Errorf("marshal outbound message: %w", err))
	}

	select {
	case c.sendQueue <- outgoingMsg{raw: raw}:
		return nil
	case <-c.quit:
		return cfderr.Newf(cfderr.KindIO, "connection to %v is closed", c.netConn.RemoteAddr())
	}
}

func (c *Conn) writeHandler() {
	defer c.wg.Done()
	for {
		select {
		case out := <-c.sendQueue:
			ciphertext := c.codec.send.Encrypt(nil, nil, out.raw)
			err := writeRawFrame(c.netConn, ciphertext)
			atomic.AddUint64(&c.bytesSent, uint64(len(ciphertext)))
			if out.done != nil {
				close(out.done)
			}
			if err != nil {
				log.Errorf("write to %v failed: %v", c.netConn.RemoteAddr(), err)
				c.Disconnect()
				return
			}
		case <-c.quit:
			return
		}
	}
}

func (c *Conn) readHandler() {
	defer c.wg.Done()
	for atomic.LoadInt32(&c.disconnect) == 0 {
		ciphertext, err := readRawFrame(c.netConn)
		if err != nil {
			if atomic.LoadInt32(&c.disconnect) == 0 {
				log.Infof("read from %v failed: %v", c.netConn.RemoteAddr(), err)
			}
			c.Disconnect()
			return
		}
		atomic.AddUint64(&c.bytesRecvd, uint64(len(ciphertext)))

		plaintext, err := c.codec.recv.Decrypt(nil, nil, ciphertext)
		if err != nil {
			log.Errorf("decrypt frame from %v failed: %v", c.netConn.RemoteAddr(), err)
			c.Disconnect()
			return
		}

		select {
		case c.Inbound <- plaintext:
		case <-c.quit:
			return
		}
	}
}

// Disconnect closes the underlying socket and stops both handler
// goroutines. Idempotent.
func (c *Conn) Disconnect() {
	if !atomic.CompareAndSwapInt32(&c.disconnect, 0, 1) {
		return
	}
	close(c.quit)
	c.netConn.Close()
}

// Close waits for both handler goroutines to exit after Disconnect.
func (c *Conn) Close() {
	c.Disconnect()
	c.wg.Wait()
}

func (c *Conn) String() string {
	return c.netConn.RemoteAddr().String()
}

// rawFramer implements frameIO directly over a net.Conn, used only
// during the handshake before any CipherState exists.
type rawFramer struct {
	rw io.ReadWriter
}

func (r *rawFramer) readFrame() ([]byte, error)   { return readRawFrame(r.rw) }
func (r *rawFramer) writeFrame(b []byte) error     { return writeRawFrame(r.rw, b) }

// readRawFrame reads one 2-byte-big-endian-length-prefixed frame (spec
// §6 "header is 2-byte big-endian length").
func readRawFrame(r io.Reader) ([]byte, error) {
	var lenBuf [2]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return nil, cfderr.New(cfderr.KindIO, fmt.Errorf("read frame length: %w", err))
	}
	n := binary.BigEndian.Uint16(lenBuf[:])
	if n == 0 {
		return nil, nil
	}

	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, cfderr.New(cfderr.KindIO, fmt.Errorf("read frame body: %w", err))
	}
	return buf, nil
}

func writeRawFrame(w io.Writer, payload []byte) error {
	if len(payload) > maxFrameSize {
		return cfderr.Newf(cfderr.KindProtocolViolation, "frame of %d bytes exceeds max %d", len(payload), maxFrameSize)
	}
	var lenBuf [2]byte
	binary.BigEndian.PutUint16(lenBuf[:], uint16(len(payload)))
	if _, err := w.Write(lenBuf[:]); err != nil {
		return cfderr.New(cfderr.KindIO, fmt.Errorf("write frame length: %w", err))
	}
	if _, err := w.Write(payload); err != nil {
		return cfderr.New(cfderr.KindIO, fmt.Errorf("write frame body: %w", err))
	}
	return nil
}
