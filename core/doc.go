// Package core provides the foundational domain types and contracts shared by
// the dispatcher packages:
//
//   - Activity, the unit exchanged with channels and remote agents
//   - Turn, the handling scope of one inbound activity and its reply sender
//   - Storage, the key-value persistence contract with tagged typed records
//   - Content / Part, role-based dialogue content for chat history and models
//   - the error taxonomy surfaced at the dispatch boundary
//
// Implementation concerns (persistence backends, transports, identity
// providers) live in their own packages behind these small interfaces.
package core
