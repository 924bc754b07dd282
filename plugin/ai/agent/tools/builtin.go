package tools

// NewBuiltinRegistry returns a registry holding the workspace tool set.
func NewBuiltinRegistry(executor *ResilientToolExecutor) *Registry {
	r := NewRegistry(executor)
	r.MustRegister(sendMessageTool())
	r.MustRegister(readMessagesTool())
	r.MustRegister(listChannelsTool())
	r.MustRegister(listUsersTool())
	r.MustRegister(listSessionsTool())
	r.MustRegister(createChannelTool())
	r.MustRegister(deleteChannelTool())
	r.MustRegister(createSessionTool())
	r.MustRegister(deleteSessionTool())
	return r
}
