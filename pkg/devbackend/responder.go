package devbackend

import (
	"context"
	"strings"
)

// Responder produces the assistant reply for one chat message.
type Responder interface {
	Respond(ctx context.Context, tenant TenantConfig, req ChatRequest) (string, error)
}

type ResponderFunc func(ctx context.Context, tenant TenantConfig, req ChatRequest) (string, error)

func (f ResponderFunc) Respond(ctx context.Context, tenant TenantConfig, req ChatRequest) (string, error) {
	return f(ctx, tenant, req)
}

// EchoResponder answers with the message, quoted as markdown so the
// widget's renderer gets exercised.
type EchoResponder struct{}

func (EchoResponder) Respond(_ context.Context, tenant TenantConfig, req ChatRequest) (string, error) {
	name := tenant.Name
	if name == "" {
		name = tenant.ClientID
	}
	var b strings.Builder
	b.WriteString("**")
	b.WriteString(name)
	b.WriteString("** received:\n\n")
	for _, line := range strings.Split(req.Message, "\n") {
		b.WriteString("> ")
		b.WriteString(line)
		b.WriteString("\n")
	}
	return b.String(), nil
}
