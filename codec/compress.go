package codec

import (
	"bytes"

	"github.com/klauspost/compress/zstd"

	"github.com/teranos/statetree/errors"
	"github.com/teranos/statetree/st"
)

// maxDecoded caps the memory a single decompression may use.
const maxDecoded = 256 << 20

var zstdMagic = []byte{0x28, 0xb5, 0x2f, 0xfd}

// The encoder and decoder are safe for concurrent EncodeAll/DecodeAll and
// are reused to avoid repeated initialization.
var (
	zstdEncoder *zstd.Encoder
	zstdDecoder *zstd.Decoder
)

func init() {
	var err error
	zstdEncoder, err = zstd.NewWriter(nil,
		zstd.WithEncoderLevel(zstd.SpeedDefault),
		zstd.WithEncoderConcurrency(1),
	)
	if err != nil {
		panic("codec: zstd encoder initialization failed: " + err.Error())
	}
	zstdDecoder, err = zstd.NewReader(nil,
		zstd.WithDecoderMaxMemory(maxDecoded),
		zstd.WithDecoderConcurrency(0),
	)
	if err != nil {
		panic("codec: zstd decoder initialization failed: " + err.Error())
	}
}

// Compress wraps data in a zstd frame.
func Compress(data []byte) []byte {
	return zstdEncoder.EncodeAll(data, make([]byte, 0, len(data)/2+16))
}

// Decompress reverses Compress.
func Decompress(data []byte) ([]byte, error) {
	out, err := zstdDecoder.DecodeAll(data, nil)
	if err != nil {
		return nil, errors.Mark(errors.Wrap(err, "zstd decompress"), ErrCorrupt)
	}
	return out, nil
}

// IsCompressed reports whether data starts with a zstd frame header.
// No codec output can begin with these bytes.
func IsCompressed(data []byte) bool {
	return bytes.HasPrefix(data, zstdMagic)
}

// Encode marshals u with c and optionally compresses the result.
func Encode(c Codec, u st.Update, compress bool) ([]byte, error) {
	data, err := c.Marshal(u)
	if err != nil {
		return nil, err
	}
	if compress {
		data = Compress(data)
	}
	return data, nil
}

// Decode reverses Encode, decompressing first when data is a zstd frame.
func Decode(c Codec, data []byte) (st.Update, error) {
	if IsCompressed(data) {
		var err error
		if data, err = Decompress(data); err != nil {
			return st.Update{}, err
		}
	}
	return c.Unmarshal(data)
}
