package config

import (
	"log/slog"
	"strings"
)

// normalizeDBURL strips driver suffixes such as postgresql+asyncpg://,
// which Go drivers do not understand.
func normalizeDBURL(raw string) string {
	plus := strings.Index(raw, "+")
	if plus < 0 {
		return raw
	}
	colon := strings.Index(raw, "://")
	if colon < 0 || plus > colon {
		return raw
	}
	normalized := raw[:plus] + raw[colon:]
	slog.Warn("normalized DB_URL driver suffix",
		"original", raw,
		"normalized", normalized,
	)
	return normalized
}

// Normalize returns a copy of the EnvConfig with legacy values converted.
// PROVIDER_* variables fill any unset EMBEDDING_ENDPOINT_* values.
func (e EnvConfig) Normalize() EnvConfig {
	if e.DBURL != "" {
		e.DBURL = normalizeDBURL(e.DBURL)
	}

	legacy := false
	if e.EmbeddingEndpoint.BaseURL == "" && e.Provider.BaseURL != "" {
		e.EmbeddingEndpoint.BaseURL = e.Provider.BaseURL
		legacy = true
	}
	if e.EmbeddingEndpoint.APIKey == "" && e.Provider.APIKey != "" {
		e.EmbeddingEndpoint.APIKey = e.Provider.APIKey
		legacy = true
	}
	if e.EmbeddingEndpoint.Model == "" && e.Provider.EmbeddingModel != "" {
		e.EmbeddingEndpoint.Model = e.Provider.EmbeddingModel
		legacy = true
	}
	if legacy {
		slog.Warn("PROVIDER_* variables are deprecated, use EMBEDDING_ENDPOINT_* instead")
	}
	return e
}
