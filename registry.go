package netx

import "fmt"

// FunctionType classifies the return-type shape a registered handler obeys,
// matching the arity/return convention the build-time binding generator
// targets.
type FunctionType uint8

const (
	// FuncVoid takes its declared arguments and returns nothing.
	FuncVoid FunctionType = 0
	// FuncVoidErr takes its declared arguments and returns only an error.
	FuncVoidErr FunctionType = 1
	// FuncValue takes its declared arguments and returns (T, error).
	FuncValue FunctionType = 2
)

// Args is the decoding cursor an Invoker reads its arguments from: it is
// always positioned at args_count, and Next yields each declared argument's
// raw buffer in order for the Invoker to Unpack with a Packer. Args wraps
// the frame's internal cursor so generated and handwritten bindings outside
// this package can decode without reaching into wire-layer internals.
type Args struct {
	r *bodyReader
}

// Count reads and consumes args_count.
func (a *Args) Count() (uint32, error) { return a.r.readU32() }

// Next reads the next length-prefixed argument buffer.
func (a *Args) Next() ([]byte, error) { return a.r.readBuffer() }

// Remaining reports the number of undecoded bytes left in the frame.
func (a *Args) Remaining() int { return a.r.remaining() }

// Invoker is produced by a generated binding (or handwritten for simple
// cases). It is handed an Args cursor positioned at args_count for one
// invocation frame, and is responsible for validating arity, decoding each
// argument via a Packer, calling the user method, and returning the
// resulting Envelope.
type Invoker func(args *Args) Envelope

type registryEntry struct {
	functionType FunctionType
	invoke       Invoker
}

// Registry is the Handler Registry: a mapping from
// method tag to (arity class, invoker) supplied by user code, including the
// reserved lifecycle tags.
type Registry struct {
	entries map[Tag]registryEntry
}

// NewRegistry returns an empty registry. The reserved lifecycle tags are not
// pre-populated with a default invoker: dispatching CONNECT/DISCONNECT/CLOSED
// when nothing was registered for them is a silent no-op (see
// invokeLifecycle), not a dispatch error, since most applications only care
// about a subset of the three.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[Tag]registryEntry)}
}

// Register installs the invoker for tag. Registering the same tag twice
// replaces the previous entry, matching the generated binding's one-shot
// `register()` call building a fresh map each time.
func (r *Registry) Register(tag Tag, ft FunctionType, invoke Invoker) {
	r.entries[tag] = registryEntry{functionType: ft, invoke: invoke}
}

// Has reports whether a handler is registered for tag.
func (r *Registry) Has(tag Tag) bool {
	_, ok := r.entries[tag]
	return ok
}

// Dispatch runs the handler registered for tag against args, enforcing that
// the wire call type tt matches the handler's declared FunctionType.
func (r *Registry) Dispatch(tt uint8, tag Tag, args *bodyReader) Envelope {
	entry, ok := r.entries[tag]
	if !ok {
		return Error(errIDDispatchFailure, fmt.Sprintf("not found cmd:%d", tag))
	}
	if FunctionType(tt) != entry.functionType {
		return Error(errIDDispatchFailure, fmt.Sprintf("cmd:%d function type error:%d", tag, tt))
	}
	return entry.invoke(&Args{r: args})
}

// invokeLifecycle runs the handler registered for a reserved tag with zero
// arguments, the same path a remote invocation would take, but without
// requiring a wire frame. A missing handler is not an error: lifecycle hooks
// are optional.
func (r *Registry) invokeLifecycle(tag Tag) {
	entry, ok := r.entries[tag]
	if !ok {
		return
	}
	empty := newBodyReader(newBodyWriter().writeU32(0).bytes())
	entry.invoke(&Args{r: empty})
}

// arityError is the standard error an Invoker returns when args_count read
// off the wire does not match the handler's declared arity.
func arityError(tag Tag, want, got uint32) error {
	return fmt.Errorf("cmd:%d expected %d args, got %d", tag, want, got)
}

// CheckArity reads args_count from args and confirms it equals want, for
// generated bindings that want a one-line arity check before decoding.
func CheckArity(tag Tag, args *Args, want uint32) error {
	got, err := args.Count()
	if err != nil {
		return err
	}
	if got != want {
		return arityError(tag, want, got)
	}
	return nil
}
