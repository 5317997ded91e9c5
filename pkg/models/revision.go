package models

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/surrealdb/multiversion/internal/codec"
)

// RevisionID is "<generation>-<32 hex>". The zero value means "no revision"
// and is used as the parent of a root.
type RevisionID string

// ParseRevisionID validates s and returns it as a RevisionID.
func ParseRevisionID(s string) (RevisionID, error) {
	gen, digest, ok := strings.Cut(s, "-")
	if !ok {
		return "", fmt.Errorf("invalid revision ID %q: missing generation separator", s)
	}
	n, err := strconv.ParseUint(gen, 10, 32)
	if err != nil || n == 0 {
		return "", fmt.Errorf("invalid revision ID %q: bad generation", s)
	}
	if len(digest) != 32 {
		return "", fmt.Errorf("invalid revision ID %q: digest must be 32 hex characters", s)
	}
	if _, err := hex.DecodeString(digest); err != nil {
		return "", fmt.Errorf("invalid revision ID %q: %w", s, err)
	}
	return RevisionID(s), nil
}

// Generation returns the generation prefix, or 0 if the id is malformed.
func (r RevisionID) Generation() uint32 {
	gen, _, ok := strings.Cut(string(r), "-")
	if !ok {
		return 0
	}
	n, err := strconv.ParseUint(gen, 10, 32)
	if err != nil {
		return 0
	}
	return uint32(n)
}

func (r RevisionID) IsZero() bool   { return r == "" }
func (r RevisionID) String() string { return string(r) }

// ComputeRevisionID derives the id of a revision from its content. The digest
// is the first 16 bytes of SHA-256 over the canonical CBOR encoding of
// [generation, parent, deleted, payload].
func ComputeRevisionID(generation uint32, parent RevisionID, deleted bool, payload []byte) (RevisionID, error) {
	if payload == nil {
		payload = []byte{}
	}
	enc, err := codec.Canonical().Marshal([]any{generation, string(parent), deleted, payload})
	if err != nil {
		return "", fmt.Errorf("failed to encode revision content: %w", err)
	}
	sum := sha256.Sum256(enc)
	return RevisionID(fmt.Sprintf("%d-%s", generation, hex.EncodeToString(sum[:16]))), nil
}

// PayloadRef points at the persisted bytes of a revision.
type PayloadRef struct {
	Digest string `json:"digest" cbor:"digest"`
	Size   int    `json:"size" cbor:"size"`
}

func NewPayloadRef(payload []byte) PayloadRef {
	sum := sha256.Sum256(payload)
	return PayloadRef{Digest: hex.EncodeToString(sum[:]), Size: len(payload)}
}

func (p PayloadRef) IsZero() bool { return p.Digest == "" }

// Revision is one immutable version of a record.
type Revision struct {
	ID         RevisionID  `json:"id" cbor:"id"`
	Record     RecordID    `json:"record" cbor:"record"`
	Generation uint32      `json:"generation" cbor:"generation"`
	Parent     RevisionID  `json:"parent,omitempty" cbor:"parent,omitempty"`
	Payload    PayloadRef  `json:"payload" cbor:"payload"`
	Deleted    bool        `json:"deleted,omitempty" cbor:"deleted,omitempty"`
	Workspace  WorkspaceID `json:"workspace" cbor:"workspace"`
	Compacted  bool        `json:"compacted,omitempty" cbor:"compacted,omitempty"`

	// Content carries the payload bytes when a revision travels between
	// replicas. It is never stored in the tree.
	Content []byte `json:"content,omitempty" cbor:"content,omitempty"`
}

// Verify recomputes the id from Content and reports whether it matches.
func (r Revision) Verify() (bool, error) {
	id, err := ComputeRevisionID(r.Generation, r.Parent, r.Deleted, r.Content)
	if err != nil {
		return false, err
	}
	return id == r.ID, nil
}

// Edge is the persisted form of one tree edge. A revision has one edge per
// workspace it became visible in.
type Edge struct {
	Record     RecordID    `json:"record" cbor:"record"`
	Revision   RevisionID  `json:"revision" cbor:"revision"`
	Parent     RevisionID  `json:"parent,omitempty" cbor:"parent,omitempty"`
	Generation uint32      `json:"generation" cbor:"generation"`
	Deleted    bool        `json:"deleted,omitempty" cbor:"deleted,omitempty"`
	Workspace  WorkspaceID `json:"workspace" cbor:"workspace"`
}

// EdgeOf returns the edge that makes rev visible in ws.
func EdgeOf(rev Revision, ws WorkspaceID) Edge {
	return Edge{
		Record:     rev.Record,
		Revision:   rev.ID,
		Parent:     rev.Parent,
		Generation: rev.Generation,
		Deleted:    rev.Deleted,
		Workspace:  ws,
	}
}

// Location is where the identifier index says a record lives.
type Location struct {
	Type string `json:"type"`
	Seq  uint64 `json:"seq"`
}

type Workspace struct {
	ID        WorkspaceID  `json:"id"`
	Name      string       `json:"name"`
	Parent    *WorkspaceID `json:"parent,omitempty"`
	IsDefault bool         `json:"is_default,omitempty"`
	Forked    bool         `json:"forked,omitempty"`
	// ForkPoints are the parent's winners captured at fork time.
	ForkPoints map[RecordID]RevisionID `json:"fork_points,omitempty"`
	CreatedAt  time.Time               `json:"created_at"`
}
