package netx

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
)

// discardConn is a net.Conn stub that accepts and drops every write, used to
// exercise peer bookkeeping without a real socket.
type discardConn struct {
	net.Conn
	written chan []byte
}

func newDiscardConn() *discardConn {
	return &discardConn{written: make(chan []byte, 16)}
}

func (d *discardConn) Write(b []byte) (int, error) {
	cp := append([]byte(nil), b...)
	select {
	case d.written <- cp:
	default:
	}
	return len(b), nil
}

func (d *discardConn) Close() error { return nil }

func testLog() *logrus.Entry {
	l := logrus.New()
	l.SetLevel(logrus.PanicLevel)
	return logrus.NewEntry(l)
}

func TestPeerFireAndForgetDoesNotBlock(t *testing.T) {
	p := newPeer(testLog(), 1, nil, time.Second)
	p.bind(newDiscardConn(), ModeLegacy)

	env, err := p.call(context.Background(), CallFireAndForget, Tag(5), nil)
	require.NoError(t, err)
	require.Equal(t, Envelope{}, env)
}

func TestPeerCallUnboundFails(t *testing.T) {
	p := newPeer(testLog(), 1, nil, time.Second)
	_, err := p.call(context.Background(), CallAcknowledged, Tag(5), nil)
	require.Error(t, err)
	var disc *TokenDisconnect
	require.ErrorAs(t, err, &disc)
	require.EqualValues(t, 1, disc.SessionID)
}

func TestPeerCallDeliversReplyViaCompletePending(t *testing.T) {
	p := newPeer(testLog(), 1, nil, time.Second)
	p.bind(newDiscardConn(), ModeLegacy)

	done := make(chan struct{})
	var env Envelope
	var callErr error
	serial := p.serial + 1 // call() will hand out this exact serial next

	go func() {
		env, callErr = p.call(context.Background(), CallValue, Tag(9), [][]byte{[]byte("x")})
		close(done)
	}()

	require.Eventually(t, func() bool {
		p.mu.Lock()
		_, ok := p.pending[serial]
		p.mu.Unlock()
		return ok
	}, time.Second, time.Millisecond)

	p.completePending(serial, Success([]byte("result")))
	<-done

	require.NoError(t, callErr)
	got, err := env.Arg(0)
	require.NoError(t, err)
	require.Equal(t, []byte("result"), got)
}

func TestPeerSweepTimeoutsExpiresOldEntries(t *testing.T) {
	p := newPeer(testLog(), 1, nil, 10*time.Millisecond)
	p.bind(newDiscardConn(), ModeLegacy)

	ch := make(chan callResult, 1)
	go func() {
		_, err := p.call(context.Background(), CallAcknowledged, Tag(1), nil)
		ch <- callResult{err: err}
	}()

	require.Eventually(t, func() bool {
		p.mu.Lock()
		n := len(p.pending)
		p.mu.Unlock()
		return n == 1
	}, time.Second, time.Millisecond)

	time.Sleep(20 * time.Millisecond)
	p.sweepTimeouts()

	res := <-ch
	require.Error(t, res.err)
	var timeout *SerialTimeOut
	require.ErrorAs(t, res.err, &timeout)
}

func TestPeerCloseAllFailsPending(t *testing.T) {
	p := newPeer(testLog(), 1, nil, time.Minute)
	p.bind(newDiscardConn(), ModeLegacy)

	ch := make(chan callResult, 1)
	go func() {
		_, err := p.call(context.Background(), CallAcknowledged, Tag(1), nil)
		ch <- callResult{err: err}
	}()

	require.Eventually(t, func() bool {
		p.mu.Lock()
		n := len(p.pending)
		p.mu.Unlock()
		return n == 1
	}, time.Second, time.Millisecond)
	p.closeAll()

	res := <-ch
	require.Error(t, res.err)
	var closeErr *SerialClose
	require.ErrorAs(t, res.err, &closeErr)
	require.False(t, p.isBound())
}

func TestPeerRegisterPendingRejectsDuplicateSerial(t *testing.T) {
	p := newPeer(testLog(), 1, nil, time.Minute)
	_, err := p.registerPending(42)
	require.NoError(t, err)
	_, err = p.registerPending(42)
	require.Error(t, err)
	var have *SerialHave
	require.ErrorAs(t, err, &have)
}

func TestPeerDispatchInvocationUnknownTagWritesErrorReply(t *testing.T) {
	p := newPeer(testLog(), 1, nil, time.Minute)
	dc := newDiscardConn()
	p.bind(dc, ModeLegacy)
	p.setRegistry(NewRegistry())

	args := newBodyReader(newBodyWriter().writeU32(0).bytes())
	p.dispatchInvocation(uint8(CallAcknowledged), Tag(777), 1, args)

	select {
	case body := <-dc.written:
		r := newBodyReader(body[lenFieldSize:]) // skip the ModeLegacy length prefix
		cmd, err := r.readI32()
		require.NoError(t, err)
		require.Equal(t, cmdReply, cmd)
	case <-time.After(time.Second):
		t.Fatal("expected a reply frame to be written")
	}
}
