// Package model defines the provider-agnostic contract for the language model
// consulted on the general chat path.
//
// Generation is exposed as a channel pair (responses, errors) so streaming and
// non-streaming providers share one shape. Tool calls and results travel as
// core.FunctionCallPart and core.FunctionResponsePart. Provider adapters live in
// the openai and anthropic subpackages; MockModel replays scripted responses.
package model
