package netx

import (
	"bytes"
	"encoding/gob"
)

// Packer turns a typed argument into a self-delimited byte buffer and back.
// The core never inspects a buffer's contents; it only moves them between
// the wire and a registered handler's invoker. A generated dispatch table
// is expected to call Pack/Unpack once per argument.
//
// A Packer is a deliberately external collaborator: the core never ties
// itself to one serialization format. NetX ships GobPacker as a working
// default so the runtime is usable standalone, but any type satisfying this
// interface may be substituted.
type Packer interface {
	Pack(v any) ([]byte, error)
	Unpack(buf []byte, v any) error
}

// GobPacker implements Packer using encoding/gob. No serialization library
// appears anywhere in the retrieval pack this runtime was grounded on
// (aznet uses encoding/json only for its own small SessionTokens struct,
// not as a general wire packer), so GobPacker follows that precedent with
// the stdlib rather than inventing a third-party dependency to satisfy this
// one concern. See DESIGN.md.
type GobPacker struct{}

// NewGobPacker returns the default Packer implementation.
func NewGobPacker() *GobPacker { return &GobPacker{} }

func (GobPacker) Pack(v any) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (GobPacker) Unpack(buf []byte, v any) error {
	return gob.NewDecoder(bytes.NewReader(buf)).Decode(v)
}
