// Package protocol implements the peer-chat wire frame:
//
//	byte 0     frame type
//	bytes 1-2  payload length, big-endian uint16
//	bytes 3..  UTF-8 payload
//
// The same frame is used on session streams and in discovery datagrams.
package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"unicode/utf8"
)

var (
	// ErrMalformedFrame marks a frame that must be skipped. It never means the
	// underlying stream is unusable.
	ErrMalformedFrame  = errors.New("malformed frame")
	ErrPayloadTooLarge = errors.New("payload exceeds maximum frame size")
)

func Encode(t FrameType, text string) ([]byte, error) {
	if len(text) > MaxPayloadSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrPayloadTooLarge, len(text))
	}

	buf := make([]byte, HeaderSize+len(text))
	buf[0] = byte(t)
	binary.BigEndian.PutUint16(buf[1:HeaderSize], uint16(len(text)))
	copy(buf[HeaderSize:], text)
	return buf, nil
}

func EncodeFrame(f Frame) ([]byte, error) {
	return Encode(f.Type, f.Payload)
}

// Decode parses exactly one frame from b. The declared length must match the
// number of bytes following the header.
func Decode(b []byte) (Frame, error) {
	if len(b) < HeaderSize {
		return Frame{}, fmt.Errorf("%w: %d bytes, header needs %d", ErrMalformedFrame, len(b), HeaderSize)
	}

	t := FrameType(b[0])
	declared := int(binary.BigEndian.Uint16(b[1:HeaderSize]))
	payload := b[HeaderSize:]

	if declared != len(payload) {
		return Frame{}, fmt.Errorf("%w: declared length %d, have %d", ErrMalformedFrame, declared, len(payload))
	}
	if !t.IsValid() {
		return Frame{}, fmt.Errorf("%w: unknown type 0x%02x", ErrMalformedFrame, byte(t))
	}
	if !utf8.Valid(payload) {
		return Frame{}, fmt.Errorf("%w: %s payload is not valid UTF-8", ErrMalformedFrame, t)
	}

	return Frame{Type: t, Payload: string(payload)}, nil
}

// ReadFrame reads one frame from a stream. Errors from r (io.EOF,
// io.ErrUnexpectedEOF, network errors) are returned as is and end the stream.
// A frame that was read completely but fails validation returns an error
// wrapping ErrMalformedFrame; the stream stays aligned on the next frame.
func ReadFrame(r io.Reader) (Frame, error) {
	var hdr [HeaderSize]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return Frame{}, err
	}

	n := int(binary.BigEndian.Uint16(hdr[1:]))
	buf := make([]byte, HeaderSize+n)
	copy(buf, hdr[:])

	if _, err := io.ReadFull(r, buf[HeaderSize:]); err != nil {
		if errors.Is(err, io.EOF) {
			err = io.ErrUnexpectedEOF
		}
		return Frame{}, err
	}

	return Decode(buf)
}

// WriteFrame encodes f and writes it with a single Write call.
func WriteFrame(w io.Writer, f Frame) error {
	data, err := EncodeFrame(f)
	if err != nil {
		return err
	}
	_, err = w.Write(data)
	return err
}
