package domain

// CompletionRequest is one chat-completion call.
type CompletionRequest struct {
	SystemPrompt string
	History      []HistoryEntry
	UserText     string
	MaxTokens    int
	Temperature  float32
}

// TokenUsage reports tokens consumed by a completion.
type TokenUsage struct {
	PromptTokens     int `json:"promptTokens"`
	CompletionTokens int `json:"completionTokens"`
	TotalTokens      int `json:"totalTokens"`
}
