package config

import "time"

// ProvidersConfig locates the two upstream APIs. Credentials never live here;
// they arrive with each request.
type ProvidersConfig struct {
	Reasoning EndpointConfig `yaml:"reasoning"`
	Response  EndpointConfig `yaml:"response"`
}

type EndpointConfig struct {
	BaseURL string `yaml:"base_url" validate:"required,url"`
	// Timeout bounds connection setup and response headers only. Zero means
	// no limit; streamed bodies are never cut off.
	Timeout time.Duration `yaml:"timeout"`
}
