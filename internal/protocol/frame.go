package protocol

// Frame is one discrete message on the wire. The length field is derived from
// Payload when encoding and checked against it when decoding.
type Frame struct {
	Type    FrameType
	Payload string
}

func NewAnnounce(name string) Frame { return Frame{Type: FrameAnnounce, Payload: name} }

func NewChat(line string) Frame { return Frame{Type: FrameChat, Payload: line} }

func NewLeave(line string) Frame { return Frame{Type: FrameLeave, Payload: line} }

func NewHistory(batch string) Frame { return Frame{Type: FrameHistory, Payload: batch} }
