package protocol

const (
	HeaderSize     = 3
	MaxPayloadSize = 0xFFFF
)

type FrameType uint8

const (
	FrameAnnounce FrameType = 0x00
	FrameChat     FrameType = 0x01
	FrameLeave    FrameType = 0x02
	FrameHistory  FrameType = 0x03
)

func (t FrameType) String() string {
	switch t {
	case FrameAnnounce:
		return "ANNOUNCE"
	case FrameChat:
		return "CHAT"
	case FrameLeave:
		return "LEAVE"
	case FrameHistory:
		return "HISTORY"
	default:
		return "UNKNOWN"
	}
}

// IsValid reports whether t is one of the known frame tags.
func (t FrameType) IsValid() bool {
	return t <= FrameHistory
}

// IsSessionType reports whether t may appear on a session stream. Announce
// frames only travel over the discovery channel.
func (t FrameType) IsSessionType() bool {
	return t == FrameChat || t == FrameLeave || t == FrameHistory
}
