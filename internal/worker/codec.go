package worker

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zlib"
	"github.com/klauspost/compress/zstd"
)

// Supported compression codecs.
const (
	CodecZlib = "zlib"
	CodecGzip = "gzip"
	CodecZstd = "zstd"
)

// DefaultCodec is used when no codec is configured.
const DefaultCodec = CodecZlib

// MaxDecompressedSize caps Decompress output. Buffers refuse events past
// 20MB of serialized JSON, so a larger segment is not one we produced.
const MaxDecompressedSize = 32 << 20

// ErrDecompressedTooLarge is returned when a payload inflates past the cap.
var ErrDecompressedTooLarge = errors.New("decompressed payload exceeds size limit")

// UnsupportedCodecError is returned for an unknown codec name.
type UnsupportedCodecError struct {
	Codec string
}

func (e *UnsupportedCodecError) Error() string {
	return fmt.Sprintf("unsupported compression codec %q", e.Codec)
}

// NewEncoder returns a streaming encoder for codec writing into w.
func NewEncoder(codec string, w io.Writer) (io.WriteCloser, error) {
	switch codec {
	case "", CodecZlib:
		return zlib.NewWriter(w), nil
	case CodecGzip:
		return gzip.NewWriter(w), nil
	case CodecZstd:
		return zstd.NewWriter(w)
	default:
		return nil, &UnsupportedCodecError{Codec: codec}
	}
}

// Decompress reverses NewEncoder for a complete payload, up to
// MaxDecompressedSize bytes of output.
func Decompress(codec string, data []byte) ([]byte, error) {
	return decompress(codec, data, MaxDecompressedSize)
}

func decompress(codec string, data []byte, limit int64) ([]byte, error) {
	var (
		r   io.ReadCloser
		err error
	)
	switch codec {
	case "", CodecZlib:
		r, err = zlib.NewReader(bytes.NewReader(data))
	case CodecGzip:
		r, err = gzip.NewReader(bytes.NewReader(data))
	case CodecZstd:
		var d *zstd.Decoder
		d, err = zstd.NewReader(bytes.NewReader(data))
		if err == nil {
			r = d.IOReadCloser()
		}
	default:
		return nil, &UnsupportedCodecError{Codec: codec}
	}
	if err != nil {
		return nil, fmt.Errorf("open %s reader: %w", codec, err)
	}
	defer r.Close()
	out, err := io.ReadAll(io.LimitReader(r, limit+1))
	if err != nil {
		return nil, fmt.Errorf("decompress %s: %w", codec, err)
	}
	if int64(len(out)) > limit {
		return nil, fmt.Errorf("decompress %s: %w", codec, ErrDecompressedTooLarge)
	}
	return out, nil
}
