package messaging

import (
	"context"
	"strings"
)

// TransportMLLP labels messages received over MLLP.
const TransportMLLP = "mllp"

// SplitPayload splits an MLLP payload of the form "<identity>\r<text>".
// A payload without a carriage return is text from an anonymous sender.
func SplitPayload(payload []byte) (identity, text string) {
	s := string(payload)
	if i := strings.IndexByte(s, '\r'); i >= 0 {
		return strings.TrimSpace(s[:i]), s[i+1:]
	}
	return "", s
}

// MLLPHandler adapts the router to mllp.Server. Unhandled messages get no
// reply frame.
func MLLPHandler(router *Router) func(ctx context.Context, payload []byte) []byte {
	return func(ctx context.Context, payload []byte) []byte {
		identity, text := SplitPayload(payload)
		reply, handled := router.Dispatch(ctx, TransportMLLP, Message{Identity: identity, Text: text})
		if !handled {
			return nil
		}
		return []byte(reply.Text)
	}
}
