package protocol

import (
	"bytes"
	"errors"
	"io"
	"strings"
	"testing"
)

func TestEncodeLayout(t *testing.T) {
	data, err := Encode(FrameChat, "hi")
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}

	want := []byte{0x01, 0x00, 0x02, 'h', 'i'}
	if !bytes.Equal(data, want) {
		t.Errorf("Expected % x, got % x", want, data)
	}
}

func TestEncodeLengthIsBigEndian(t *testing.T) {
	text := strings.Repeat("a", 0x0102)
	data, err := Encode(FrameHistory, text)
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}

	if data[1] != 0x01 || data[2] != 0x02 {
		t.Errorf("Expected length bytes 01 02, got %02x %02x", data[1], data[2])
	}
}

func TestCodecRoundTrip(t *testing.T) {
	cases := []struct {
		name string
		typ  FrameType
		text string
	}{
		{"announce", FrameAnnounce, "alice"},
		{"chat", FrameChat, "12:00:01 [alice] hello there"},
		{"leave", FrameLeave, "12:00:02 [alice] disconnected"},
		{"history", FrameHistory, "line one\nline two"},
		{"empty", FrameChat, ""},
		{"unicode", FrameChat, "12:00:03 [bob] привет 👋"},
		{"max size", FrameHistory, strings.Repeat("x", MaxPayloadSize)},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			data, err := Encode(tc.typ, tc.text)
			if err != nil {
				t.Fatalf("Encode failed: %v", err)
			}

			frame, err := Decode(data)
			if err != nil {
				t.Fatalf("Decode failed: %v", err)
			}

			if frame.Type != tc.typ {
				t.Errorf("Expected type %s, got %s", tc.typ, frame.Type)
			}
			if frame.Payload != tc.text {
				t.Errorf("Payload mismatch for %s", tc.name)
			}
		})
	}
}

func TestEncodeTooLarge(t *testing.T) {
	_, err := Encode(FrameChat, strings.Repeat("x", MaxPayloadSize+1))
	if !errors.Is(err, ErrPayloadTooLarge) {
		t.Errorf("Expected ErrPayloadTooLarge, got %v", err)
	}
}

func TestDecodeMalformed(t *testing.T) {
	cases := []struct {
		name string
		data []byte
	}{
		{"empty", nil},
		{"short header", []byte{0x01, 0x00}},
		{"declared longer", []byte{0x01, 0x00, 0x05, 'a', 'b'}},
		{"declared shorter", []byte{0x01, 0x00, 0x01, 'a', 'b'}},
		{"unknown type", []byte{0x7f, 0x00, 0x01, 'a'}},
		{"invalid utf8", []byte{0x01, 0x00, 0x02, 0xff, 0xfe}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Decode(tc.data)
			if !errors.Is(err, ErrMalformedFrame) {
				t.Errorf("Expected ErrMalformedFrame, got %v", err)
			}
		})
	}
}

func TestReadFrameSequence(t *testing.T) {
	var buf bytes.Buffer
	for _, f := range []Frame{NewChat("one"), NewHistory("a\nb"), NewLeave("bye")} {
		if err := WriteFrame(&buf, f); err != nil {
			t.Fatalf("WriteFrame failed: %v", err)
		}
	}

	want := []FrameType{FrameChat, FrameHistory, FrameLeave}
	for i, typ := range want {
		frame, err := ReadFrame(&buf)
		if err != nil {
			t.Fatalf("ReadFrame %d failed: %v", i, err)
		}
		if frame.Type != typ {
			t.Errorf("Frame %d: expected %s, got %s", i, typ, frame.Type)
		}
	}

	if _, err := ReadFrame(&buf); err != io.EOF {
		t.Errorf("Expected io.EOF at end of stream, got %v", err)
	}
}

func TestReadFrameSkipsMalformed(t *testing.T) {
	var buf bytes.Buffer
	buf.Write([]byte{0x42, 0x00, 0x03, 'b', 'a', 'd'})
	buf.Write([]byte{0x01, 0x00, 0x02, 0xc3, 0x28})
	if err := WriteFrame(&buf, NewChat("good")); err != nil {
		t.Fatalf("WriteFrame failed: %v", err)
	}

	for i := 0; i < 2; i++ {
		if _, err := ReadFrame(&buf); !errors.Is(err, ErrMalformedFrame) {
			t.Fatalf("Frame %d: expected ErrMalformedFrame, got %v", i, err)
		}
	}

	frame, err := ReadFrame(&buf)
	if err != nil {
		t.Fatalf("ReadFrame after malformed frames failed: %v", err)
	}
	if frame.Payload != "good" {
		t.Errorf("Expected 'good', got %q", frame.Payload)
	}
}

func TestReadFrameTruncated(t *testing.T) {
	data, err := Encode(FrameChat, "truncated")
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}

	_, err = ReadFrame(bytes.NewReader(data[:len(data)-2]))
	if !errors.Is(err, io.ErrUnexpectedEOF) {
		t.Errorf("Expected io.ErrUnexpectedEOF, got %v", err)
	}
	if errors.Is(err, ErrMalformedFrame) {
		t.Error("Truncated stream must not be reported as a skippable frame")
	}

	_, err = ReadFrame(bytes.NewReader(data[:2]))
	if !errors.Is(err, io.ErrUnexpectedEOF) {
		t.Errorf("Expected io.ErrUnexpectedEOF for partial header, got %v", err)
	}
}

func TestFrameTypeString(t *testing.T) {
	if FrameChat.String() != "CHAT" {
		t.Errorf("Expected CHAT, got %s", FrameChat.String())
	}
	if FrameType(0x42).String() != "UNKNOWN" {
		t.Errorf("Expected UNKNOWN, got %s", FrameType(0x42).String())
	}
	if FrameAnnounce.IsSessionType() {
		t.Error("Announce must not be a session frame")
	}
	if !FrameHistory.IsSessionType() {
		t.Error("History must be a session frame")
	}
}
