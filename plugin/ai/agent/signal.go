package agent

import (
	"context"

	"github.com/hrygo/chorus/plugin/ai/agent/tools"
)

// Signal tells the UI of a user that a sidebar list changed because of a tool.
type Signal struct {
	Kind   tools.SideEffect
	UserID int32
	Tool   string
}

// SignalSink receives sidebar signals. Implementations must not block.
type SignalSink interface {
	Signal(ctx context.Context, signal Signal)
}

// SignalFunc adapts a function to SignalSink.
type SignalFunc func(ctx context.Context, signal Signal)

func (f SignalFunc) Signal(ctx context.Context, signal Signal) {
	f(ctx, signal)
}

type discardSignals struct{}

func (discardSignals) Signal(context.Context, Signal) {}
