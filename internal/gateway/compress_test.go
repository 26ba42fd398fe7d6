package gateway

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFrameCodecRoundtripSmallFrame(t *testing.T) {
	codec, err := newFrameCodec()
	require.NoError(t, err)
	t.Cleanup(codec.close)

	raw := []byte(`{"type":"pong"}`)
	framed := codec.encode(raw)
	assert.Equal(t, byte(0), framed[0]) // below compressMinBytes stays raw

	decoded, err := codec.decode(framed)
	require.NoError(t, err)
	assert.True(t, bytes.Equal(raw, decoded))
}

func TestFrameCodecRoundtripLargeFrame(t *testing.T) {
	codec, err := newFrameCodec()
	require.NoError(t, err)
	t.Cleanup(codec.close)

	raw := []byte(strings.Repeat("a", compressMinBytes+100))
	framed := codec.encode(raw)
	assert.Equal(t, byte(1), framed[0]) // above compressMinBytes is compressed

	decoded, err := codec.decode(framed)
	require.NoError(t, err)
	assert.True(t, bytes.Equal(raw, decoded))
}
