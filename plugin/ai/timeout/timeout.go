// Package timeout defines centralized timeout constants for AI operations.
// Package timeout 定义 AI 操作的集中式超时常量。
package timeout

import "time"

// AI operation timeout constants.
// AI 操作超时常量。
const (
	// StreamTimeout is the timeout for streaming responses from LLM.
	// StreamTimeout 是 LLM 流式响应的超时时间。
	StreamTimeout = 5 * time.Minute

	// ToolExecutionTimeout is the timeout for individual tool execution.
	// ToolExecutionTimeout 是单个工具执行的超时时间。
	ToolExecutionTimeout = 30 * time.Second

	// TitleTimeout bounds the best-effort session title call.
	// TitleTimeout 是会话标题生成的超时时间。
	TitleTimeout = 5 * time.Second

	// PersistRetryDelay is the default pause before retrying a failed reply write.
	// PersistRetryDelay 是回复写入失败后重试前的默认等待时间。
	PersistRetryDelay = time.Second

	// MaxToolRounds is the maximum number of tool-calling rounds in one turn.
	// MaxToolRounds 是单轮对话中工具调用的最大轮数。
	MaxToolRounds = 8
)
