// Package llm provides a provider-agnostic completion client.
//
// The agent loop speaks one canonical request/response model: a list of
// Messages, a set of ToolDefinitions, and a Response carrying text, tool
// calls, and token usage. Provider adapters translate that model into
// whatever shape the upstream service expects and translate the reply back.
//
// Two adapters ship with the package: a gollm-backed adapter that covers
// every provider gollm supports, and a native Anthropic adapter built on
// the official SDK. The Client routes requests to a registered adapter and
// applies middleware (retry, logging) around the call.
//
// Nothing in this package is a process-wide singleton. Construct a Client
// once at startup and pass it down.
package llm
