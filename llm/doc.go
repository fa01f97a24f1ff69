// Package llm drives chat turns against streaming model gateways.
//
// Gateways under llm/providers implement ChatModel and emit classified
// schema.StreamEvent values (generation batches, done, error). On top of them:
//   - GenerationAccumulator merges generations sharing an id into one message.
//   - Session owns one streaming turn and notifies an Observer in order,
//     with OnEnd always last and delivered exactly once.
//   - Client aggregates a whole turn into a Result, applying a default token
//     budget when the caller sets none.
package llm
