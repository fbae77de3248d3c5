package netx

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

const echoTag Tag = 1

func echoFactory(token *Token) (Controller, error) {
	reg := NewRegistry()
	reg.Register(echoTag, FuncValue, func(args *Args) Envelope {
		if err := CheckArity(echoTag, args, 1); err != nil {
			return Error(errIDDispatchFailure, err.Error())
		}
		buf, err := args.Next()
		if err != nil {
			return Error(errIDDispatchFailure, err.Error())
		}
		cp := append([]byte(nil), buf...)
		return Success(cp)
	})
	return &nopController{reg: reg}, nil
}

func startTestServer(t *testing.T, factory ControllerFactory, opts ...ServerOption) *Server {
	srv, err := Listen("127.0.0.1:0", factory, opts...)
	require.NoError(t, err)
	go srv.Serve()
	t.Cleanup(func() { _ = srv.Close() })
	return srv
}

func TestClientServerEchoRoundTrip(t *testing.T) {
	srv := startTestServer(t, echoFactory)

	client, err := Dial(srv.Addr().String(), NewRegistry())
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	env, err := client.Session().Call(ctx, CallValue, echoTag, []byte("ping"))
	require.NoError(t, err)
	got, err := env.Arg(0)
	require.NoError(t, err)
	require.Equal(t, []byte("ping"), got)
}

func TestClientServerFireAndForget(t *testing.T) {
	received := make(chan []byte, 1)
	factory := func(token *Token) (Controller, error) {
		reg := NewRegistry()
		reg.Register(echoTag, FuncVoid, func(args *Args) Envelope {
			_ = CheckArity(echoTag, args, 1)
			buf, _ := args.Next()
			received <- append([]byte(nil), buf...)
			return Envelope{}
		})
		return &nopController{reg: reg}, nil
	}
	srv := startTestServer(t, factory)

	client, err := Dial(srv.Addr().String(), NewRegistry())
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	require.NoError(t, client.Session().Run(echoTag, []byte("fire")))

	select {
	case got := <-received:
		require.Equal(t, []byte("fire"), got)
	case <-time.After(2 * time.Second):
		t.Fatal("expected the server to receive the fire-and-forget call")
	}
}

func TestClientServerVerifyKeyMismatchRejected(t *testing.T) {
	srv := startTestServer(t, echoFactory, WithVerifyKey("correct-key"))

	_, err := Dial(srv.Addr().String(), NewRegistry(), WithClientVerifyKey("wrong-key"))
	require.Error(t, err)
}

func TestClientServerResumeAfterReconnect(t *testing.T) {
	srv := startTestServer(t, echoFactory, WithSessionSaveTime(time.Second))

	store := NewMemorySessionStore()
	client, err := Dial(srv.Addr().String(), NewRegistry(), WithSessionStore(store))
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	firstID := store.GetSessionID()
	require.NotZero(t, firstID)

	require.NoError(t, client.Reconnect())
	require.Equal(t, firstID, store.GetSessionID())

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	env, err := client.Session().Call(ctx, CallValue, echoTag, []byte("again"))
	require.NoError(t, err)
	got, err := env.Arg(0)
	require.NoError(t, err)
	require.Equal(t, []byte("again"), got)
}
