package graph

const (
	DefaultModel        = "gemini-1.5-flash"
	DefaultSystemPrompt = "You are a helpful AI assistant."
)

// EntryConfig is what a chat turn needs from a graph.
type EntryConfig struct {
	Model        string `json:"model"`
	SystemPrompt string `json:"systemPrompt"`
}

// ResolveEntryConfig derives the execution configuration from the first
// process node. Later process nodes are inert. Missing fields fall back to the
// defaults; model ids are passed through unchecked.
func ResolveEntryConfig(g Graph) EntryConfig {
	cfg := EntryConfig{Model: DefaultModel, SystemPrompt: DefaultSystemPrompt}

	node, ok := FindFirstNodeOfKind(g, KindProcess)
	if !ok {
		return cfg
	}
	if node.Data.Model != "" {
		cfg.Model = node.Data.Model
	}
	if node.Data.SystemPrompt != "" {
		cfg.SystemPrompt = node.Data.SystemPrompt
	}
	return cfg
}
