package agent

import (
	"strings"
	"sync"

	"github.com/hrygo/chorus/plugin/ai"
	"github.com/hrygo/chorus/plugin/markup"
)

// Accumulator folds stream events into the state of one reply.
// It holds exactly one tool status per invocation id; success and result are
// only set once the matching tool_result event has been applied.
// Accumulator 将流事件累积为一条回复的状态，每个调用 ID 只保留一条工具状态。
type Accumulator struct {
	mu      sync.Mutex
	text    strings.Builder
	tools   []markup.ToolStatus
	index   map[string]int
	sources []markup.Source
}

// NewAccumulator creates an empty accumulator.
func NewAccumulator() *Accumulator {
	return &Accumulator{index: make(map[string]int)}
}

// Apply folds one event and reports whether the visible state changed.
// Events with a missing payload are ignored.
func (a *Accumulator) Apply(ev *ai.Event) bool {
	if ev == nil {
		return false
	}
	a.mu.Lock()
	defer a.mu.Unlock()

	switch ev.Kind {
	case ai.EventText:
		if ev.Text == "" {
			return false
		}
		a.text.WriteString(ev.Text)
		return true
	case ai.EventSources:
		if len(ev.Sources) == 0 {
			return false
		}
		a.sources = append(a.sources, ev.Sources...)
		return true
	case ai.EventToolCall:
		if ev.ToolCall == nil || ev.ToolCall.ID == "" {
			return false
		}
		status := a.status(ev.ToolCall.ID)
		status.Name = ev.ToolCall.Name
		status.Arguments = ev.ToolCall.Arguments
		return true
	case ai.EventToolResult:
		if ev.ToolResult == nil || ev.ToolResult.ID == "" {
			return false
		}
		status := a.status(ev.ToolResult.ID)
		success := ev.ToolResult.Success
		status.Success = &success
		if success {
			status.Result = ev.ToolResult.Result
		} else {
			status.Result = ev.ToolResult.Error
		}
		return true
	default:
		return false
	}
}

// status returns the entry for id, creating it on first sight. Caller holds mu.
func (a *Accumulator) status(id string) *markup.ToolStatus {
	i, ok := a.index[id]
	if !ok {
		a.tools = append(a.tools, markup.ToolStatus{ID: id})
		i = len(a.tools) - 1
		a.index[id] = i
	}
	return &a.tools[i]
}

// ToolName returns the name recorded for an invocation id.
func (a *Accumulator) ToolName(id string) string {
	a.mu.Lock()
	defer a.mu.Unlock()
	if i, ok := a.index[id]; ok {
		return a.tools[i].Name
	}
	return ""
}

// Text returns the running text with any marker the model echoed removed.
func (a *Accumulator) Text() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.cleanText()
}

func (a *Accumulator) cleanText() string {
	visible, _ := markup.ExtractMetadata(a.text.String())
	return strings.TrimSpace(visible)
}

// ToolStatus returns a copy of the tool statuses in invocation order.
func (a *Accumulator) ToolStatus() []markup.ToolStatus {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]markup.ToolStatus(nil), a.tools...)
}

// Sources returns a copy of the collected sources.
func (a *Accumulator) Sources() []markup.Source {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]markup.Source(nil), a.sources...)
}

// Empty reports whether nothing worth keeping has been received.
func (a *Accumulator) Empty() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.tools) == 0 && len(a.sources) == 0 && a.cleanText() == ""
}

// Assemble builds the message content: the tool status marker, the running text
// with citations formatted by format, then the sources marker.
// The streaming display and the persisted message use the same assembly.
// Assemble 组装消息内容：工具状态标记、正文、来源标记，流式展示与持久化共用。
func (a *Accumulator) Assemble(format func(string) string) string {
	a.mu.Lock()
	defer a.mu.Unlock()

	var b strings.Builder
	b.WriteString(markup.RenderToolStatus(a.tools))
	if text := a.cleanText(); text != "" {
		text = markup.AnnotateCitations(text, a.sources)
		if format != nil {
			text = format(text)
		}
		b.WriteString(text)
	}
	b.WriteString(markup.RenderSources(a.sources))
	return b.String()
}
