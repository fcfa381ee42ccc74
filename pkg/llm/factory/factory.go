package factory

import (
	"fmt"

	"csv-analyst-be/pkg/llm"
	"csv-analyst-be/pkg/llm/ollama"
	"csv-analyst-be/pkg/llm/openai"
)

func NewLLMProvider(providerType, modelName, baseURL string) (llm.Provider, error) {
	switch providerType {
	case "openai", "":
		return openai.NewOpenAIProvider(baseURL, modelName), nil
	case "ollama":
		return ollama.NewOllamaProvider(baseURL, modelName), nil
	default:
		return nil, fmt.Errorf("unsupported LLM provider: %s", providerType)
	}
}
