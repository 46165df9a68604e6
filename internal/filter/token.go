package filter

import (
	"context"

	"github.com/nmxmxh/janus/internal/protocol"
	"github.com/nmxmxh/janus/pkg/common"
	errs "github.com/nmxmxh/janus/pkg/errors"
	"github.com/nmxmxh/janus/pkg/extension"
)

func init() {
	protocol.SetFilter("token", extension.Activate{
		Group: []string{common.ProviderSide},
		Value: []string{common.TokenKey},
		Order: -80,
	}, func() protocol.Filter { return &tokenFilter{} })
}

// tokenFilter rejects invocations that do not carry the token the provider
// was exported with. The token travels to legitimate consumers through the
// registry as a provider URL parameter.
type tokenFilter struct{}

func (f *tokenFilter) Invoke(ctx context.Context, next protocol.Invoker, inv protocol.Invocation) protocol.Result {
	want := next.URL().Param(common.TokenKey, "")
	if want == "" {
		return next.Invoke(ctx, inv)
	}
	if inv.Attachment(common.TokenKey) != want {
		return protocol.NewErrorResult(errs.Forbiddenf(
			"invalid token for %s.%s", next.URL().ServiceKey(), inv.MethodName()))
	}
	return next.Invoke(ctx, inv)
}
