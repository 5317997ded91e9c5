// Package multiversion gives opaque records CouchDB-style multi-version
// concurrency control.
//
// Every change to a record produces a new immutable revision. The revisions
// of a record form a tree rooted at its creation, and each workspace selects
// one revision per record, its winner, without affecting other workspaces.
//
// # Revisions
//
// A revision id is "<generation>-<digest>", where the digest is derived from
// the generation, the parent id, the deleted flag and the payload. The same
// change made on two replicas therefore gets the same id, which is what makes
// [Manager.ReplicateIn] idempotent.
//
// # Winners and conflicts
//
// The winner of a record in a workspace is the visible leaf with the highest
// generation, ties broken by the greater id (see [revtree.Compare]). Other
// visible leaves that are not tombstones are reported as conflicts. Writes are
// optimistic: a write naming a base revision other than the current winner
// fails with [constants.ErrConflict] and the caller must re-read.
//
// # Workspaces
//
// The default workspace exists from the start. [Manager.CreateWorkspace] adds
// a child that sees everything its parent sees; [Manager.ForkWorkspace] adds
// one that only sees the parent's state at fork time. Revisions move between
// workspaces through [Manager.ReplicateIn].
//
// # Storage
//
// Payloads and tree edges are written through a [storage.Adaptor] before a
// change becomes visible. If the adaptor fails nothing is published. See
// [github.com/surrealdb/multiversion/pkg/storage/memstore] and
// [github.com/surrealdb/multiversion/pkg/storage/postgres].
package multiversion
