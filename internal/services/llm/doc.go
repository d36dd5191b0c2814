// Package llm provides an OpenRouter chat client for JSON-mode completions.
//
// This package is used by:
//   - Analysis source: produce summary, takeaways, key points, and chapters
//     from a talk transcript
//   - Preflight: verify the configured API key and model before a run starts
//
// # Completion Logic
//
// The client sends a system prompt and a user prompt to the configured model
// with response_format set to json_object, then extracts the JSON payload from
// whichever shape the provider returned (message content, streaming delta,
// legacy text, or tool call arguments).
//
// # Configuration
//
// Requires api_key, model, and optionally base_url, referer, title, timeout.
// When unconfigured, callers should report the analysis source as unavailable.
//
// # Entry Points
//
// NewClient: construct client from Config.
// Client.CompleteJSON: send system/user prompts, receive a JSON payload.
// Client.HealthCheck: verify API key and model availability.
// DecodeLLMJSON: parse a payload, tolerating markdown code fences.
//
// # Retry Behaviour
//
// The client retries on HTTP 408/429/5xx errors, empty completions, and
// network timeouts with exponential backoff (base 1s, max 10s, up to 5
// attempts by default). A Retry-After header on a 429 overrides the computed
// delay. Context cancellation aborts retries immediately.
package llm
