// Package storage provides implementations of core.Storage, the key-value
// persistence collaborator behind conversation links, sign-in flow state and
// chat history: a volatile in-memory store and a durable SQLite store.
package storage
