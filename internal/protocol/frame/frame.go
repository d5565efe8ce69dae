// Package frame implements the relay wire format: a fixed 32-byte big-endian
// header, optional auth bytes, and an opaque payload. Inbound frames are
// drained incrementally out of a staging buffer as bytes arrive; outbound
// frames are staged into one before flushing to the socket.
package frame

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/danmuck/stagerelay/internal/staging"
)

const (
	FixedHeaderLen uint16 = 32
	FlagHasAuth    uint32 = 0x01
	FlagIsResponse uint32 = 0x02
	FlagIsError    uint32 = 0x04

	Magic   uint32 = 0x53524C59
	Version uint16 = 1
)

var (
	ErrBadMagic          = errors.New("frame: bad magic")
	ErrBadVersion        = errors.New("frame: unsupported version")
	ErrHeaderLenTooSmall = errors.New("frame: header_len smaller than fixed header")
	ErrHeaderLenMismatch = errors.New("frame: auth present but header_len has no auth bytes")
	ErrPayloadTooLarge   = errors.New("frame: payload too large")
	ErrAuthTooLarge      = errors.New("frame: auth too large")
)

// Header is the fixed wire header.
type Header struct {
	Magic       uint32
	Version     uint16
	HeaderLen   uint16
	MessageID   uint64
	MessageType uint32
	Flags       uint32
	PayloadLen  uint64
}

// Frame is one complete wire message.
type Frame struct {
	Header  Header
	Auth    []byte
	Payload []byte
}

// Limits constrains frame decode/encode memory use.
type Limits struct {
	MaxAuthBytes    uint64
	MaxPayloadBytes uint64
}

func DefaultLimits() Limits {
	return Limits{
		MaxAuthBytes:    64 * 1024,
		MaxPayloadBytes: 8 * 1024 * 1024,
	}
}

// Decode drains one complete frame from the staging buffer. It returns
// (frame, true, nil) and retires the frame's bytes when one is fully staged,
// (zero, false, nil) when more bytes must arrive first, and an error on a
// malformed or oversized header, leaving the buffer untouched so the caller
// can drop the connection.
func Decode(buf *staging.Buffer, limits Limits) (Frame, bool, error) {
	if buf.Len() < int(FixedHeaderLen) {
		return Frame{}, false, nil
	}

	view := buf.Peek()
	h, err := DecodeHeader(view[:FixedHeaderLen])
	if err != nil {
		return Frame{}, false, err
	}
	if h.Magic != Magic {
		return Frame{}, false, fmt.Errorf("%w: 0x%08X", ErrBadMagic, h.Magic)
	}
	if h.Version != Version {
		return Frame{}, false, fmt.Errorf("%w: %d", ErrBadVersion, h.Version)
	}
	if h.HeaderLen < FixedHeaderLen {
		return Frame{}, false, ErrHeaderLenTooSmall
	}

	authLen := uint64(h.HeaderLen - FixedHeaderLen)
	if h.Flags&FlagHasAuth != 0 && authLen == 0 {
		return Frame{}, false, ErrHeaderLenMismatch
	}
	if authLen > limits.MaxAuthBytes {
		return Frame{}, false, ErrAuthTooLarge
	}
	if h.PayloadLen > limits.MaxPayloadBytes {
		return Frame{}, false, ErrPayloadTooLarge
	}

	total := int(FixedHeaderLen) + int(authLen) + int(h.PayloadLen)
	if buf.Len() < total {
		return Frame{}, false, nil
	}

	// The peeked view dies on the next buffer mutation; the frame escapes,
	// so both sections are copied out before the skip.
	auth := make([]byte, authLen)
	copy(auth, view[FixedHeaderLen:uint64(FixedHeaderLen)+authLen])
	payload := make([]byte, h.PayloadLen)
	copy(payload, view[uint64(h.HeaderLen):uint64(h.HeaderLen)+h.PayloadLen])
	buf.Skip(total)

	return Frame{Header: h, Auth: auth, Payload: payload}, true, nil
}

// Append stages one encoded frame into the outbound buffer. HeaderLen,
// PayloadLen, and the auth flag are derived from the frame body.
func Append(buf *staging.Buffer, f Frame, limits Limits) error {
	authLen := uint64(len(f.Auth))
	payloadLen := uint64(len(f.Payload))
	if authLen > limits.MaxAuthBytes {
		return ErrAuthTooLarge
	}
	if payloadLen > limits.MaxPayloadBytes {
		return ErrPayloadTooLarge
	}

	h := f.Header
	if h.Magic == 0 {
		h.Magic = Magic
	}
	if h.Version == 0 {
		h.Version = Version
	}
	h.HeaderLen = FixedHeaderLen + uint16(authLen)
	h.PayloadLen = payloadLen
	if authLen > 0 {
		h.Flags |= FlagHasAuth
	} else {
		h.Flags &^= FlagHasAuth
	}

	if err := buf.Write(EncodeHeader(h)); err != nil {
		return err
	}
	if authLen > 0 {
		if err := buf.Write(f.Auth); err != nil {
			return err
		}
	}
	if payloadLen > 0 {
		if err := buf.Write(f.Payload); err != nil {
			return err
		}
	}
	return nil
}

func EncodeHeader(h Header) []byte {
	buf := make([]byte, FixedHeaderLen)
	binary.BigEndian.PutUint32(buf[0:4], h.Magic)
	binary.BigEndian.PutUint16(buf[4:6], h.Version)
	binary.BigEndian.PutUint16(buf[6:8], h.HeaderLen)
	binary.BigEndian.PutUint64(buf[8:16], h.MessageID)
	binary.BigEndian.PutUint32(buf[16:20], h.MessageType)
	binary.BigEndian.PutUint32(buf[20:24], h.Flags)
	binary.BigEndian.PutUint64(buf[24:32], h.PayloadLen)
	return buf
}

func DecodeHeader(b []byte) (Header, error) {
	if len(b) != int(FixedHeaderLen) {
		return Header{}, fmt.Errorf("frame: invalid fixed header length: %d", len(b))
	}
	return Header{
		Magic:       binary.BigEndian.Uint32(b[0:4]),
		Version:     binary.BigEndian.Uint16(b[4:6]),
		HeaderLen:   binary.BigEndian.Uint16(b[6:8]),
		MessageID:   binary.BigEndian.Uint64(b[8:16]),
		MessageType: binary.BigEndian.Uint32(b[16:20]),
		Flags:       binary.BigEndian.Uint32(b[20:24]),
		PayloadLen:  binary.BigEndian.Uint64(b[24:32]),
	}, nil
}
