// Package console is the application layer of the CacheDeck operations
// console. The Service composes the gateway, executor, workflow
// coordinator, governance resolver, retention enforcer, alert evaluator,
// and export manager behind one API consumed by the CLI and other
// frontends. Every mutating key operation passes through the writability
// and production guardrail gates before it reaches a backend.
package console
