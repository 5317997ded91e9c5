// Package revtree keeps the revision tree of every record and the winner each
// workspace selects from it.
//
// A Tree is immutable once published. Writers obtain a private copy through
// Index.Update, mutate it and either publish it or throw it away, so a reader
// calling Index.Snapshot always sees a complete tree: the one before a write
// or the one after it.
//
// Which revisions a workspace can see is decided outside this package by a
// Visibility. The tree only records, per revision, the workspace it was
// created in and the workspaces it was merged into.
package revtree
