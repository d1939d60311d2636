package tools

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"
)

type callContextKey struct{}

// CallContext identifies the tool call a Tool.Execute belongs to.
type CallContext struct {
	SessionKey string
	TurnID     string
	CallID     string
	Attempt    int // 1 for the first try
}

// WithCallContext returns ctx carrying cc.
func WithCallContext(ctx context.Context, cc CallContext) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	cc.SessionKey = strings.TrimSpace(cc.SessionKey)
	return context.WithValue(ctx, callContextKey{}, cc)
}

// CallContextFrom returns the call metadata of ctx, or the zero value.
func CallContextFrom(ctx context.Context) CallContext {
	if ctx == nil {
		return CallContext{}
	}
	cc, _ := ctx.Value(callContextKey{}).(CallContext)
	return cc
}

// TruncateWithNotice keeps the head and tail of content within about
// maxBytes and marks the omitted middle. Cuts never split a UTF-8
// sequence. It reports whether anything was cut.
func TruncateWithNotice(content string, maxBytes int) (string, bool) {
	if maxBytes <= 0 || len(content) <= maxBytes {
		return content, false
	}

	headEnd := maxBytes / 2
	for headEnd > 0 && !utf8.RuneStart(content[headEnd]) {
		headEnd--
	}
	tailStart := len(content) - (maxBytes - maxBytes/2)
	for tailStart < len(content) && !utf8.RuneStart(content[tailStart]) {
		tailStart++
	}

	omitted := tailStart - headEnd
	return fmt.Sprintf("%s\n\n... [truncated %d bytes] ...\n\n%s", content[:headEnd], omitted, content[tailStart:]), true
}
