package worker

import (
	"bytes"
	"errors"
	"io"
)

// Compressor accumulates serialized events into a compressed JSON array.
// It is owned by a single worker task and is not safe for concurrent use.
type Compressor struct {
	codec string
	buf   bytes.Buffer
	enc   io.WriteCloser
	added bool
}

// NewCompressor returns a Compressor for codec.
func NewCompressor(codec string) (*Compressor, error) {
	if codec == "" {
		codec = DefaultCodec
	}
	c := &Compressor{codec: codec}
	if err := c.init(); err != nil {
		return nil, err
	}
	return c, nil
}

// Codec returns the codec name used by the compressor.
func (c *Compressor) Codec() string { return c.codec }

func (c *Compressor) init() error {
	c.buf.Reset()
	enc, err := NewEncoder(c.codec, &c.buf)
	if err != nil {
		return err
	}
	c.enc = enc
	c.added = false
	_, err = c.enc.Write([]byte("["))
	return err
}

// AddEvent appends one serialized event.
func (c *Compressor) AddEvent(data string) error {
	if data == "" {
		return errors.New("adding empty event")
	}
	if c.added {
		if _, err := c.enc.Write([]byte(",")); err != nil {
			return err
		}
	}
	if _, err := io.WriteString(c.enc, data); err != nil {
		return err
	}
	c.added = true
	return nil
}

// Finish closes the array, returns the compressed bytes and starts over.
func (c *Compressor) Finish() ([]byte, error) {
	if _, err := c.enc.Write([]byte("]")); err != nil {
		return nil, err
	}
	if err := c.enc.Close(); err != nil {
		return nil, err
	}
	out := bytes.Clone(c.buf.Bytes())
	if err := c.init(); err != nil {
		return nil, err
	}
	return out, nil
}

// Clear drops everything added since the last Finish.
func (c *Compressor) Clear() error {
	_ = c.enc.Close()
	return c.init()
}
