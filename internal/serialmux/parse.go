package serialmux

import "strings"

// Reply kinds reported by the actuator board.
const (
	ReplyAck     = "ack"
	ReplyError   = "error"
	ReplyUnknown = "unknown"
)

// ClassifyReply inspects a line read from the actuator and returns a reply
// kind. Matching is on the leading token only and is case-insensitive.
func ClassifyReply(line string) string {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return ReplyUnknown
	}
	switch strings.ToUpper(fields[0]) {
	case "ACK", "OK":
		return ReplyAck
	case "ERR", "ERROR", "NAK":
		return ReplyError
	default:
		return ReplyUnknown
	}
}
