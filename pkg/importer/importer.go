// Package importer loads records from a legacy system into a Manager and can
// undo what it loaded.
//
// Input is JSON lines, one Row per line. Rows sharing a LegacyID become
// successive revisions of the same record.
package importer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"slices"
	"sync"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"

	"github.com/surrealdb/multiversion/pkg/models"
)

// Writer is the part of multiversion.Manager the importer needs.
type Writer interface {
	Create(ctx context.Context, ws models.WorkspaceID, recordType string, payload []byte) (models.RecordID, models.RevisionID, error)
	CreateWithID(ctx context.Context, rec models.RecordID, ws models.WorkspaceID, recordType string, payload []byte) (models.RevisionID, error)
	Write(ctx context.Context, rec models.RecordID, ws models.WorkspaceID, base models.RevisionID, payload []byte) (models.RevisionID, error)
	Delete(ctx context.Context, rec models.RecordID, ws models.WorkspaceID, base models.RevisionID) (models.RevisionID, error)
}

// Row is one legacy change.
type Row struct {
	LegacyID string `json:"legacy_id"`
	Type     string `json:"type"`
	// Record keeps the legacy system's id when it already is a UUID.
	Record *models.RecordID `json:"record,omitempty"`
	// Parent overrides the revision the row is written on top of.
	Parent  models.RevisionID `json:"parent,omitempty"`
	Payload json.RawMessage   `json:"payload,omitempty"`
	Deleted bool              `json:"deleted,omitempty"`
}

// Mapping is where a legacy id ended up.
type Mapping struct {
	Record   models.RecordID
	Revision models.RevisionID
	Deleted  bool
}

// Stats counts what an import did.
type Stats struct {
	Rows    int
	Created int
	Updated int
	Deleted int
}

type Importer struct {
	w      Writer
	ws     models.WorkspaceID
	logger zerolog.Logger

	mu      sync.Mutex
	mapping map[string]Mapping
	created []string
}

type Option func(im *Importer)

func WithLogger(l zerolog.Logger) Option {
	return func(im *Importer) {
		im.logger = l
	}
}

// New returns an importer writing into ws.
func New(w Writer, ws models.WorkspaceID, opts ...Option) *Importer {
	im := &Importer{
		w:       w,
		ws:      ws,
		logger:  zerolog.Nop(),
		mapping: make(map[string]Mapping),
	}
	for _, opt := range opts {
		opt(im)
	}
	return im
}

// Lookup returns the mapping of a legacy id seen by this importer.
func (im *Importer) Lookup(legacyID string) (Mapping, bool) {
	im.mu.Lock()
	defer im.mu.Unlock()
	m, ok := im.mapping[legacyID]
	return m, ok
}

// Import reads rows from r until EOF. It stops at the first row that fails
// and reports its line; rows before it stay imported.
func (im *Importer) Import(ctx context.Context, r io.Reader) (Stats, error) {
	var stats Stats
	dec := json.NewDecoder(r)
	for line := 1; ; line++ {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		var row Row
		if err := dec.Decode(&row); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return stats, fmt.Errorf("line %d: %w", line, err)
		}
		kind, _, err := im.importRow(ctx, row)
		if err != nil {
			return stats, fmt.Errorf("line %d (legacy id %q): %w", line, row.LegacyID, err)
		}
		stats.Rows++
		switch kind {
		case created:
			stats.Created++
		case updated:
			stats.Updated++
		case deleted:
			stats.Deleted++
		}
	}
	im.logger.Info().
		Int("rows", stats.Rows).
		Int("created", stats.Created).
		Int("updated", stats.Updated).
		Int("deleted", stats.Deleted).
		Msg("import finished")
	return stats, nil
}

type rowKind int

const (
	created rowKind = iota + 1
	updated
	deleted
)

// ImportRow applies one row as a single write and returns where it landed.
func (im *Importer) ImportRow(ctx context.Context, row Row) (Mapping, error) {
	_, m, err := im.importRow(ctx, row)
	return m, err
}

func (im *Importer) importRow(ctx context.Context, row Row) (rowKind, Mapping, error) {
	if row.LegacyID == "" {
		return 0, Mapping{}, errors.New("legacy id is required")
	}

	im.mu.Lock()
	defer im.mu.Unlock()

	prev, seen := im.mapping[row.LegacyID]
	base := row.Parent
	if base.IsZero() && seen {
		base = prev.Revision
	}
	payload := []byte(row.Payload)

	var (
		rec models.RecordID
		rev models.RevisionID
		err error
	)
	switch {
	case seen:
		rec = prev.Record
	case row.Type == "":
		return 0, Mapping{}, errors.New("type is required for a new record")
	case row.Deleted:
		return 0, Mapping{}, errors.New("cannot create a record as deleted")
	case row.Record != nil:
		rec = *row.Record
		rev, err = im.w.CreateWithID(ctx, rec, im.ws, row.Type, payload)
		if err != nil {
			return 0, Mapping{}, err
		}
	default:
		rec, rev, err = im.w.Create(ctx, im.ws, row.Type, payload)
		if err != nil {
			return 0, Mapping{}, err
		}
	}

	if rev.IsZero() {
		if row.Deleted {
			rev, err = im.w.Delete(ctx, rec, im.ws, base)
		} else {
			rev, err = im.w.Write(ctx, rec, im.ws, base, payload)
		}
		if err != nil {
			return 0, Mapping{}, err
		}
	}

	m := Mapping{Record: rec, Revision: rev, Deleted: row.Deleted}
	im.mapping[row.LegacyID] = m

	kind := updated
	switch {
	case row.Deleted:
		kind = deleted
	case rev.Generation() == 1:
		kind = created
		im.created = append(im.created, row.LegacyID)
	}
	im.logger.Debug().
		Str("legacy_id", row.LegacyID).
		Str("record", rec.String()).
		Str("revision", rev.String()).
		Msg("row imported")
	return kind, m, nil
}

// Rollback tombstones every record this importer created, newest first,
// using the last imported revision as base. A record changed since then
// fails with constants.ErrConflict and is left alone. All failures are
// returned joined.
func (im *Importer) Rollback(ctx context.Context) error {
	im.mu.Lock()
	defer im.mu.Unlock()

	var (
		errs      []error
		remaining []string
	)
	for i := len(im.created) - 1; i >= 0; i-- {
		legacyID := im.created[i]
		m := im.mapping[legacyID]
		if m.Deleted {
			continue
		}
		rev, err := im.w.Delete(ctx, m.Record, im.ws, m.Revision)
		if err != nil {
			errs = append(errs, fmt.Errorf("legacy id %q: %w", legacyID, err))
			remaining = append(remaining, legacyID)
			continue
		}
		im.mapping[legacyID] = Mapping{Record: m.Record, Revision: rev, Deleted: true}
	}
	slices.Reverse(remaining)
	im.created = remaining
	im.logger.Info().Int("failed", len(errs)).Msg("import rolled back")
	return errors.Join(errs...)
}
