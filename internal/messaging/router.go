// Package messaging turns inbound text messages into report workflow calls
// and renders the single reply for each handled command.
package messaging

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/rs/zerolog"
)

// DefaultPrefix is the word that may precede every keyword.
const DefaultPrefix = "nutrition"

// TransportCLI labels messages submitted from the command line.
const TransportCLI = "cli"

// Message is one inbound text from a sender identity.
type Message struct {
	Identity string `json:"identity"`
	Text     string `json:"text"`
}

// Reply is the single response to a handled message.
type Reply struct {
	Text string `json:"text"`
}

// Handler answers one keyword. args is the text after the keyword, trimmed;
// it is empty when only the keyword was sent.
type Handler interface {
	Keyword() string
	Handle(ctx context.Context, msg Message, args string) Reply
}

// Metrics counts handled messages per transport. A nil Metrics is allowed.
type Metrics interface {
	MessageHandled(transport, keyword string)
}

type route struct {
	pattern *regexp.Regexp
	handler Handler
}

// Router dispatches a message to the first handler whose keyword matches.
type Router struct {
	prefix  string
	routes  []route
	metrics Metrics
	logger  zerolog.Logger
}

func NewRouter(prefix string, metrics Metrics, logger zerolog.Logger, handlers ...Handler) *Router {
	r := &Router{prefix: prefix, metrics: metrics, logger: logger}
	for _, h := range handlers {
		r.routes = append(r.routes, route{pattern: keywordPattern(prefix, h.Keyword()), handler: h})
	}
	return r
}

// Prefix is the configured command prefix.
func (r *Router) Prefix() string { return r.prefix }

// keywordPattern matches "[prefix] keyword [args]". The prefix is optional
// and separators between words may be whitespace or , ; :
func keywordPattern(prefix, keyword string) *regexp.Regexp {
	p := ""
	if prefix != "" {
		p = fmt.Sprintf(`(?:%s[\s,;:]*)?`, regexp.QuoteMeta(prefix))
	}
	return regexp.MustCompile(fmt.Sprintf(`(?i)^\s*%s(?:%s)(?:[\s,;:]+(.+))?$`, p, regexp.QuoteMeta(keyword)))
}

// Dispatch runs the matching handler. handled is false when no keyword
// matched; the caller may then pass the message elsewhere.
func (r *Router) Dispatch(ctx context.Context, transport string, msg Message) (Reply, bool) {
	text := strings.TrimSpace(msg.Text)
	for _, rt := range r.routes {
		m := rt.pattern.FindStringSubmatch(text)
		if m == nil {
			continue
		}
		args := strings.TrimSpace(m[1])
		r.logger.Debug().
			Str("transport", transport).
			Str("identity", msg.Identity).
			Str("keyword", rt.handler.Keyword()).
			Msg("message matched")
		reply := rt.handler.Handle(ctx, msg, args)
		if r.metrics != nil {
			r.metrics.MessageHandled(transport, rt.handler.Keyword())
		}
		return reply, true
	}
	if r.metrics != nil {
		r.metrics.MessageHandled(transport, "")
	}
	return Reply{}, false
}
