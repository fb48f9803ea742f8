package tdtree

import (
	"fmt"
	"math"
	"math/bits"
	"strings"
)

// Open marks an interval that has no end yet.
const Open int64 = math.MaxInt64

// Key is a fixed-width encoded (identifier, time) pair. Comparing two keys
// byte-wise orders them by identifier first and time second.
type Key string

// Codec encodes identifiers and times into fixed-width keys:
//
//	key[0:idWidth]        identifier, zero padded
//	key[idWidth:width]    time, big-endian, timeWidth bytes
//
// The field widths are computed once from the maximum identifier length and
// the maximum representable time value.
type Codec struct {
	idWidth   int
	timeWidth int
	maxValue  int64
}

// NewCodec creates a codec for identifiers of at most maxIdentifierLen bytes
// and times in [0, maxValue].
func NewCodec(maxIdentifierLen int, maxValue int64) (*Codec, error) {
	if maxIdentifierLen <= 0 || maxIdentifierLen > math.MaxUint16 {
		return nil, fmt.Errorf("%w: max identifier length %d", ErrInvalidOptions, maxIdentifierLen)
	}
	if maxValue <= 0 || maxValue == Open {
		return nil, fmt.Errorf("%w: max value %d", ErrInvalidOptions, maxValue)
	}
	return &Codec{
		idWidth:   maxIdentifierLen,
		timeWidth: (bits.Len64(uint64(maxValue)) + 7) / 8,
		maxValue:  maxValue,
	}, nil
}

// Width returns the encoded key length in bytes.
func (c *Codec) Width() int { return c.idWidth + c.timeWidth }

// TimeWidth returns the number of bytes used for the time field.
func (c *Codec) TimeWidth() int { return c.timeWidth }

// MaxValue returns the largest representable time.
func (c *Codec) MaxValue() int64 { return c.maxValue }

// CheckIdentifier reports whether id can be encoded.
func (c *Codec) CheckIdentifier(id string) error {
	switch {
	case id == "":
		return fmt.Errorf("%w: empty", ErrInvalidIdentifier)
	case len(id) > c.idWidth:
		return fmt.Errorf("%w: %d bytes exceeds %d", ErrInvalidIdentifier, len(id), c.idWidth)
	case strings.IndexByte(id, 0) >= 0:
		return fmt.Errorf("%w: contains NUL byte", ErrInvalidIdentifier)
	}
	return nil
}

// CheckTime reports whether t lies in [0, MaxValue].
func (c *Codec) CheckTime(t int64) error {
	if t < 0 || t > c.maxValue {
		return fmt.Errorf("%w: %d not in [0, %d]", ErrOutOfRange, t, c.maxValue)
	}
	return nil
}

// Encode validates and encodes (id, t).
func (c *Codec) Encode(id string, t int64) (Key, error) {
	if err := c.CheckIdentifier(id); err != nil {
		return "", err
	}
	if err := c.CheckTime(t); err != nil {
		return "", err
	}
	return c.encode(id, t), nil
}

func (c *Codec) encode(id string, t int64) Key {
	buf := make([]byte, c.idWidth+c.timeWidth)
	copy(buf, id)
	c.putTime(buf, t)
	return Key(buf)
}

func (c *Codec) putTime(buf []byte, t int64) {
	u := uint64(t)
	for i := range c.timeWidth {
		buf[len(buf)-1-i] = byte(u >> (8 * i))
	}
}

// Prefix returns the encoded identifier field shared by every key of id.
func (c *Codec) Prefix(id string) string {
	buf := make([]byte, c.idWidth)
	copy(buf, id)
	return string(buf)
}

// Identifier decodes the identifier of k.
func (c *Codec) Identifier(k Key) string {
	return strings.TrimRight(string(k[:c.idWidth]), "\x00")
}

// Time decodes the time of k.
func (c *Codec) Time(k Key) int64 {
	var u uint64
	for i := c.idWidth; i < len(k); i++ {
		u = u<<8 | uint64(k[i])
	}
	return int64(u)
}

// SameIdentifier compares the identifier fields of a and b without decoding.
func (c *Codec) SameIdentifier(a, b Key) bool {
	return a[:c.idWidth] == b[:c.idWidth]
}
