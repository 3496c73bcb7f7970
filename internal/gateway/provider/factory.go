package provider

import (
	"fmt"
	"time"

	"tradewind/internal/config"
)

// Build constructs one backend per configured provider, keyed by id.
// Every supported vendor today speaks the OpenAI chat-completions shape;
// a new wire format means a new ModelBackend implementation here.
func Build(cfgs []config.ProviderConfig) (map[string]ModelBackend, error) {
	backends := make(map[string]ModelBackend, len(cfgs))
	for _, pc := range cfgs {
		if _, dup := backends[pc.ID]; dup {
			return nil, fmt.Errorf("duplicate provider id %q", pc.ID)
		}
		backends[pc.ID] = NewOpenAIBackend(OpenAIConfig{
			ID:         pc.ID,
			BaseURL:    pc.BaseURL,
			APIKey:     pc.APIKey,
			Model:      pc.Model,
			Timeout:    time.Duration(pc.TimeoutSeconds) * time.Second,
			MaxRetries: pc.MaxRetries,
		})
	}
	return backends, nil
}
