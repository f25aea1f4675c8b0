// Package stores provides the persistence layer: a SQLite store backing
// every repository port and an in-memory store with the same surface for
// tests and ephemeral use.
package stores
