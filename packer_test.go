package netx

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestGobPackerRoundTrip(t *testing.T) {
	p := NewGobPacker()
	type payload struct {
		Name  string
		Count int
	}
	buf, err := p.Pack(payload{Name: "widget", Count: 3})
	require.NoError(t, err)

	var got payload
	require.NoError(t, p.Unpack(buf, &got))
	require.Equal(t, payload{Name: "widget", Count: 3}, got)
}
