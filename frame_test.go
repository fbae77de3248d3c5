package netx

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestWriteReadFrameLegacy(t *testing.T) {
	var buf bytes.Buffer
	body := []byte("hello netx")
	require.NoError(t, writeFrame(&buf, ModeLegacy, body))

	got, err := readFrame(&buf, ModeLegacy)
	require.NoError(t, err)
	require.Equal(t, body, got)
}

func TestWriteReadFrameCurrent(t *testing.T) {
	var buf bytes.Buffer
	body := []byte("hello netx mode 1")
	require.NoError(t, writeFrame(&buf, ModeCurrent, body))

	got, err := readFrame(&buf, ModeCurrent)
	require.NoError(t, err)
	require.Equal(t, body, got)
}

func TestReadFrameCurrentRejectsOuterMismatch(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, writeFrame(&buf, ModeCurrent, []byte("x")))
	raw := buf.Bytes()
	// corrupt the inner length field so it disagrees with the outer one
	raw[4] = raw[4] + 1

	_, err := readFrame(bytes.NewReader(raw), ModeCurrent)
	require.ErrorIs(t, err, errOuterMismatch)
}

func TestBodyWriterReaderRoundTrip(t *testing.T) {
	w := newBodyWriter()
	w.writeU8(7).writeBool(true).writeI32(-5).writeU32(9001).writeI64(-123456789).
		writeString("tag").writeBuffer([]byte{1, 2, 3})

	r := newBodyReader(w.bytes())
	u8, err := r.readU8()
	require.NoError(t, err)
	require.EqualValues(t, 7, u8)

	b, err := r.readBool()
	require.NoError(t, err)
	require.True(t, b)

	i32, err := r.readI32()
	require.NoError(t, err)
	require.EqualValues(t, -5, i32)

	u32, err := r.readU32()
	require.NoError(t, err)
	require.EqualValues(t, 9001, u32)

	i64, err := r.readI64()
	require.NoError(t, err)
	require.EqualValues(t, -123456789, i64)

	s, err := r.readString()
	require.NoError(t, err)
	require.Equal(t, "tag", s)

	buf, err := r.readBuffer()
	require.NoError(t, err)
	require.Equal(t, []byte{1, 2, 3}, buf)

	require.Zero(t, r.remaining())
}

func TestBodyReaderShortReadErrors(t *testing.T) {
	r := newBodyReader([]byte{1, 2})
	_, err := r.readI64()
	require.Error(t, err)
}
