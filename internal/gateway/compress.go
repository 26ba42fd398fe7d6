package gateway

import (
	"github.com/klauspost/compress/zstd"
)

// compressMinBytes is the threshold above which an outbound frame is
// zstd-compressed before being written to the socket, grounded on the
// teacher's MessageCompressorConfig.MinSizeForCompression
// (internal/performance/message_compressor.go) — small control frames
// (acks, pongs) are cheaper left raw than round-tripped through a codec.
const compressMinBytes = 512

// frameCodec wraps a shared zstd encoder/decoder pair, reused across every
// connection on a gateway.Server the way the teacher pools compressors
// (MessageCompressorConfig.EnableCompressorPool) rather than allocating one
// per message.
type frameCodec struct {
	enc *zstd.Encoder
	dec *zstd.Decoder
}

func newFrameCodec() (*frameCodec, error) {
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedFastest))
	if err != nil {
		return nil, err
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		enc.Close()
		return nil, err
	}
	return &frameCodec{enc: enc, dec: dec}, nil
}

// encode returns the frame to write to the socket: a one-byte flag
// (0 = raw JSON, 1 = zstd-compressed JSON) followed by the payload. Small
// frames are left uncompressed since the flag byte plus zstd's frame
// overhead can exceed the savings below compressMinBytes.
func (c *frameCodec) encode(raw []byte) []byte {
	if len(raw) < compressMinBytes {
		return append([]byte{0}, raw...)
	}
	compressed := c.enc.EncodeAll(raw, make([]byte, 0, len(raw)))
	return append([]byte{1}, compressed...)
}

// decode reverses encode, used when a gateway also accepts compressed
// client-originated frames (large subscribe batches).
func (c *frameCodec) decode(framed []byte) ([]byte, error) {
	if len(framed) == 0 {
		return nil, nil
	}
	flag, payload := framed[0], framed[1:]
	if flag == 0 {
		return payload, nil
	}
	return c.dec.DecodeAll(payload, nil)
}

func (c *frameCodec) close() {
	c.enc.Close()
	c.dec.Close()
}
