package sink

import (
	"encoding/binary"
	"fmt"
	"math"
	"strings"
)

type Framing string

const (
	FramingNone    Framing = "none"    // raw passthrough
	FramingNewline Framing = "newline" // payload + '\n'
	FramingLength  Framing = "length"  // 4-byte big-endian length prefix
)

func ParseFraming(s string) (Framing, error) {
	switch f := Framing(strings.ToLower(strings.TrimSpace(s))); f {
	case "":
		return FramingNone, nil
	case FramingNone, FramingNewline, FramingLength:
		return f, nil
	default:
		return "", fmt.Errorf("unknown framing %q (want none, newline or length)", s)
	}
}

// Frame returns the bytes to write for payload. For FramingNone the payload
// itself is returned.
func (f Framing) Frame(payload []byte) ([]byte, error) {
	switch f {
	case "", FramingNone:
		return payload, nil
	case FramingNewline:
		out := make([]byte, 0, len(payload)+1)
		out = append(out, payload...)
		return append(out, '\n'), nil
	case FramingLength:
		if uint64(len(payload)) > math.MaxUint32 {
			return nil, fmt.Errorf("payload of %d bytes exceeds length prefix", len(payload))
		}
		out := make([]byte, 4, 4+len(payload))
		binary.BigEndian.PutUint32(out, uint32(len(payload)))
		return append(out, payload...), nil
	default:
		return nil, fmt.Errorf("unknown framing %q", string(f))
	}
}
