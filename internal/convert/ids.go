package convert

import (
	"strings"

	"github.com/google/uuid"
)

// NewToolUseID generates a toolu_<24hex> id from a fresh UUID's raw bytes,
// used whenever an upstream functionCall part arrives without its own id.
func NewToolUseID() string {
	return "toolu_" + hexFromUUID(24)
}

// NewMessageID generates a msg_<32hex> id for message_start events.
func NewMessageID() string {
	return "msg_" + hexFromUUID(32)
}

func hexFromUUID(n int) string {
	var sb strings.Builder
	for sb.Len() < n {
		u := uuid.New()
		sb.WriteString(strings.ReplaceAll(u.String(), "-", ""))
	}
	s := sb.String()
	return s[:n]
}
