// Package noisetransport provides an optional net.Conn wrapper that
// encrypts a NetX connection with the Noise Protocol Framework before any
// netx frame is exchanged. It is grounded on Atsika-aznet's crypto.go, which
// uses the same library (github.com/flynn/noise) to secure its own
// storage-backed transport; this package adapts that handshake/seal/unseal
// shape to a plain TCP net.Conn instead of an Azure-storage-polling one.
//
// NetX's core treats the transport as an opaque net.Conn; an application opts
// into encryption with netx.WithNoiseTransport on the server and
// netx.WithNoiseClientTransport on the client, which wrap each connection via
// noisetransport.Server/noisetransport.Client before the netx handshake.
package noisetransport

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/flynn/noise"
)

var cipherSuite = noise.NewCipherSuite(noise.DH25519, noise.CipherAESGCM, noise.HashSHA256)

var (
	// ErrHandshakeIncomplete is returned if application data is exchanged
	// before the Noise handshake finishes.
	ErrHandshakeIncomplete = errors.New("noisetransport: handshake not complete")
)

// Conn wraps a net.Conn, encrypting every Write and decrypting every Read
// with a Noise NN session established on the first use.
type Conn struct {
	net.Conn

	isInitiator bool
	hs          *noise.HandshakeState
	send, recv  *noise.CipherState
	complete    bool

	readBuf []byte // undecrypted bytes carried over from a short Read
}

// Client wraps conn as the Noise initiator. The handshake runs lazily on the
// first Read or Write, or eagerly via Handshake.
func Client(conn net.Conn) (*Conn, error) {
	return newConn(conn, true)
}

// Server wraps conn as the Noise responder.
func Server(conn net.Conn) (*Conn, error) {
	return newConn(conn, false)
}

func newConn(conn net.Conn, initiator bool) (*Conn, error) {
	hs, err := noise.NewHandshakeState(noise.Config{
		CipherSuite: cipherSuite,
		Pattern:     noise.HandshakeNN,
		Initiator:   initiator,
	})
	if err != nil {
		return nil, fmt.Errorf("noisetransport: init handshake: %w", err)
	}
	return &Conn{Conn: conn, isInitiator: initiator, hs: hs}, nil
}

// Handshake performs the two-message NN exchange. It is safe to call more
// than once; subsequent calls are no-ops once complete.
func (c *Conn) Handshake() error {
	if c.complete {
		return nil
	}
	if c.isInitiator {
		msg, _, _, err := c.hs.WriteMessage(nil, nil)
		if err != nil {
			return err
		}
		if err := writeFrame(c.Conn, msg); err != nil {
			return err
		}
		reply, err := readFrame(c.Conn)
		if err != nil {
			return err
		}
		_, cs1, cs2, err := c.hs.ReadMessage(nil, reply)
		if err != nil {
			return err
		}
		c.send, c.recv, c.complete = cs1, cs2, true
		return nil
	}

	msg, err := readFrame(c.Conn)
	if err != nil {
		return err
	}
	if _, _, _, err := c.hs.ReadMessage(nil, msg); err != nil {
		return err
	}
	reply, cs1, cs2, err := c.hs.WriteMessage(nil, nil)
	if err != nil {
		return err
	}
	if err := writeFrame(c.Conn, reply); err != nil {
		return err
	}
	c.recv, c.send, c.complete = cs1, cs2, true
	return nil
}

func (c *Conn) ensureHandshake() error {
	if c.complete {
		return nil
	}
	return c.Handshake()
}

// Read decrypts and returns application bytes, performing the handshake
// first if it hasn't happened yet.
func (c *Conn) Read(p []byte) (int, error) {
	if err := c.ensureHandshake(); err != nil {
		return 0, err
	}
	if len(c.readBuf) > 0 {
		n := copy(p, c.readBuf)
		c.readBuf = c.readBuf[n:]
		return n, nil
	}
	ciphertext, err := readFrame(c.Conn)
	if err != nil {
		return 0, err
	}
	plaintext, err := c.recv.Decrypt(nil, nil, ciphertext)
	if err != nil {
		return 0, fmt.Errorf("noisetransport: decrypt: %w", err)
	}
	n := copy(p, plaintext)
	c.readBuf = plaintext[n:]
	return n, nil
}

// Write encrypts and sends p as a single Noise-sealed frame, performing the
// handshake first if it hasn't happened yet.
func (c *Conn) Write(p []byte) (int, error) {
	if err := c.ensureHandshake(); err != nil {
		return 0, err
	}
	ciphertext, err := c.send.Encrypt(nil, nil, p)
	if err != nil {
		return 0, fmt.Errorf("noisetransport: encrypt: %w", err)
	}
	if err := writeFrame(c.Conn, ciphertext); err != nil {
		return 0, err
	}
	return len(p), nil
}

func (c *Conn) SetDeadline(t time.Time) error      { return c.Conn.SetDeadline(t) }
func (c *Conn) SetReadDeadline(t time.Time) error  { return c.Conn.SetReadDeadline(t) }
func (c *Conn) SetWriteDeadline(t time.Time) error { return c.Conn.SetWriteDeadline(t) }

func writeFrame(w io.Writer, body []byte) error {
	var hdr [4]byte
	binary.BigEndian.PutUint32(hdr[:], uint32(len(body)))
	if _, err := w.Write(hdr[:]); err != nil {
		return err
	}
	_, err := w.Write(body)
	return err
}

func readFrame(r io.Reader) ([]byte, error) {
	var hdr [4]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return nil, err
	}
	body := make([]byte, binary.BigEndian.Uint32(hdr[:]))
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, err
	}
	return body, nil
}
