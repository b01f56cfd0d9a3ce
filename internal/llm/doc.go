// Package llm contains adapters for invoking large language models. It
// abstracts provider-specific APIs behind Client so the llm agent can ask for
// security guidance with task history and knowledge snippets attached.
package llm
