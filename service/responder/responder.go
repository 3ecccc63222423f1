// Package responder generates the automated assistant's replies. The gateway
// only ever reaches it through the background task bus, so a slow or failing
// responder can never stall message delivery.
package responder

import (
	"context"
	"fmt"
	"strings"

	"github.com/michaeljohneduave/hugin-gateway/service/gateway"
)

// Local answers mentions with a canned acknowledgment built from the prompt.
// It stands in until a model-backed implementation is wired behind the same
// interface.
type Local struct {
	handle string
}

func NewLocal(handle string) *Local {
	if handle == "" {
		handle = "@llm"
	}
	return &Local{handle: handle}
}

func (l *Local) Respond(_ context.Context, req gateway.ResponderRequest) (string, error) {
	prompt := strings.TrimSpace(strings.ReplaceAll(req.Prompt, l.handle, ""))
	if prompt == "" {
		return fmt.Sprintf("Hi %s, how can I help?", req.SenderID), nil
	}
	return fmt.Sprintf("You said: %q. A full answer is on its way.", prompt), nil
}
