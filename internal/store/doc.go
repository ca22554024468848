// Package store makes the Directory durable across stateless operation
// executions that share nothing but the file system.
//
// Every operation runs as load -> mutate -> commit. Commits are optimistic:
// state lives in numbered generation files and a commit publishes generation
// N+1 with an atomic hard link, which fails visibly if a concurrent
// execution got there first. A lost race never overwrites the winner; the
// operation is re-run against the fresh state instead.
package store
