package netx

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type nopController struct{ reg *Registry }

func (c *nopController) Register() (*Registry, error) { return c.reg, nil }

func nopFactory(token *Token) (Controller, error) {
	return &nopController{reg: NewRegistry()}, nil
}

func failingFactory(token *Token) (Controller, error) {
	return nil, errors.New("boom")
}

func newTestManager(t *testing.T, factory ControllerFactory, requestOut, sessionSave time.Duration) *Manager {
	m := NewManager(factory, requestOut, sessionSave, testLog())
	t.Cleanup(m.Close)
	return m
}

func TestManagerCreateTokenMintsUniqueIDs(t *testing.T) {
	m := newTestManager(t, nopFactory, time.Second, time.Second)

	t1, err := m.CreateToken()
	require.NoError(t, err)
	t2, err := m.CreateToken()
	require.NoError(t, err)
	require.NotEqual(t, t1.SessionID(), t2.SessionID())
}

func TestManagerCreateTokenFactoryErrorCleansUp(t *testing.T) {
	m := newTestManager(t, failingFactory, time.Second, time.Second)
	_, err := m.CreateToken()
	require.Error(t, err)
	require.Empty(t, m.Tokens())
}

func TestManagerGetOrCreateTokenResumesKnownID(t *testing.T) {
	m := newTestManager(t, nopFactory, time.Second, time.Second)
	t1, err := m.CreateToken()
	require.NoError(t, err)

	t2, err := m.GetOrCreateToken(t1.SessionID())
	require.NoError(t, err)
	require.Same(t, t1, t2)
}

func TestManagerGetOrCreateTokenMintsFreshForUnknownID(t *testing.T) {
	m := newTestManager(t, nopFactory, time.Second, time.Second)
	tok, err := m.GetOrCreateToken(999999)
	require.NoError(t, err)
	require.NotEqual(t, int64(999999), tok.SessionID())
}

// TestManagerDisconnectSweepExpiresAfterGraceWindow exercises the S6-style
// scenario: a disconnected token that never resumes is destroyed once its
// grace window elapses, and CLOSED fires exactly once.
func TestManagerDisconnectSweepExpiresAfterGraceWindow(t *testing.T) {
	closed := make(chan struct{}, 1)
	factory := func(token *Token) (Controller, error) {
		reg := NewRegistry()
		reg.Register(TagClosed, FuncVoid, func(args *Args) Envelope {
			closed <- struct{}{}
			return Envelope{}
		})
		return &nopController{reg: reg}, nil
	}

	m := newTestManager(t, factory, time.Second, 20*time.Millisecond)
	tok, err := m.CreateToken()
	require.NoError(t, err)

	tok.disconnect()

	select {
	case <-closed:
	case <-time.After(time.Second):
		t.Fatal("expected CLOSED to fire after grace window")
	}
	require.Empty(t, m.Tokens())
}

// TestManagerDisconnectSweepSkipsResumedToken exercises the S5-style
// scenario: a token that reconnects before its grace window elapses is left
// alone by the sweep.
func TestManagerDisconnectSweepSkipsResumedToken(t *testing.T) {
	closed := make(chan struct{}, 1)
	factory := func(token *Token) (Controller, error) {
		reg := NewRegistry()
		reg.Register(TagClosed, FuncVoid, func(args *Args) Envelope {
			closed <- struct{}{}
			return Envelope{}
		})
		return &nopController{reg: reg}, nil
	}

	m := newTestManager(t, factory, time.Second, 100*time.Millisecond)
	tok, err := m.CreateToken()
	require.NoError(t, err)

	tok.disconnect()
	tok.bindConn(newDiscardConn(), ModeLegacy)

	select {
	case <-closed:
		t.Fatal("CLOSED should not fire for a resumed token")
	case <-time.After(250 * time.Millisecond):
	}
	_, ok := m.GetToken(tok.SessionID())
	require.True(t, ok)
}

func TestManagerSweepRequestTimeoutsAcrossTokens(t *testing.T) {
	m := newTestManager(t, nopFactory, 10*time.Millisecond, time.Second)
	tok, err := m.CreateToken()
	require.NoError(t, err)
	tok.bindConn(newDiscardConn(), ModeLegacy)

	ch := make(chan error, 1)
	go func() {
		_, err := tok.Call(context.Background(), CallAcknowledged, Tag(1))
		ch <- err
	}()

	require.Eventually(t, func() bool {
		tok.mu.Lock()
		n := len(tok.queue)
		tok.mu.Unlock()
		return n == 1
	}, time.Second, time.Millisecond)

	time.Sleep(20 * time.Millisecond)
	m.sweepRequestTimeouts()

	select {
	case err := <-ch:
		require.Error(t, err)
	case <-time.After(time.Second):
		t.Fatal("expected sweepRequestTimeouts to expire the pending call")
	}
}
