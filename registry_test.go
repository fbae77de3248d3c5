package netx

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func argsFrame(bufs ...[]byte) *bodyReader {
	w := newBodyWriter().writeU32(uint32(len(bufs)))
	for _, b := range bufs {
		w.writeBuffer(b)
	}
	return newBodyReader(w.bytes())
}

func wrapArgs(bufs ...[]byte) *Args {
	return &Args{r: argsFrame(bufs...)}
}

func TestRegistryDispatchSuccess(t *testing.T) {
	reg := NewRegistry()
	reg.Register(Tag(1), FuncValue, func(args *Args) Envelope {
		if err := CheckArity(Tag(1), args, 1); err != nil {
			return Error(errIDDispatchFailure, err.Error())
		}
		buf, err := args.Next()
		if err != nil {
			return Error(errIDDispatchFailure, err.Error())
		}
		return Success(append([]byte("echo:"), buf...))
	})

	env := reg.Dispatch(uint8(FuncValue), Tag(1), argsFrame([]byte("hi")))
	require.False(t, env.IsError)
	got, err := env.Arg(0)
	require.NoError(t, err)
	require.Equal(t, []byte("echo:hi"), got)
}

func TestRegistryDispatchUnknownTag(t *testing.T) {
	reg := NewRegistry()
	env := reg.Dispatch(uint8(FuncVoid), Tag(99), argsFrame())
	require.True(t, env.IsError)
	require.Equal(t, errIDDispatchFailure, env.ErrorID)
}

func TestRegistryDispatchFunctionTypeMismatch(t *testing.T) {
	reg := NewRegistry()
	reg.Register(Tag(1), FuncValue, func(args *Args) Envelope { return Success() })

	env := reg.Dispatch(uint8(FuncVoid), Tag(1), argsFrame())
	require.True(t, env.IsError)
}

func TestRegistryInvokeLifecycleMissingIsNoop(t *testing.T) {
	reg := NewRegistry()
	require.NotPanics(t, func() { reg.invokeLifecycle(TagConnect) })
}

func TestRegistryInvokeLifecycleRuns(t *testing.T) {
	reg := NewRegistry()
	called := false
	reg.Register(TagConnect, FuncVoid, func(args *Args) Envelope {
		called = true
		return Envelope{}
	})
	reg.invokeLifecycle(TagConnect)
	require.True(t, called)
}

func TestCheckArityMismatch(t *testing.T) {
	err := CheckArity(Tag(1), wrapArgs([]byte("x")), 2)
	require.Error(t, err)
}
