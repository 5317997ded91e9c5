package multiversion

import (
	"context"
	"errors"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/surrealdb/multiversion/pkg/constants"
	"github.com/surrealdb/multiversion/pkg/identifier"
	"github.com/surrealdb/multiversion/pkg/models"
	"github.com/surrealdb/multiversion/pkg/revindex"
	"github.com/surrealdb/multiversion/pkg/revtree"
	"github.com/surrealdb/multiversion/pkg/storage"
	"github.com/surrealdb/multiversion/pkg/workspace"
)

const tracerName = "multiversion"

// Manager coordinates the identifier, revision and revision tree indices, the
// workspaces and the storage adaptor.
type Manager struct {
	ids     *identifier.Index
	revs    *revindex.Index
	trees   *revtree.Index
	spaces  *workspace.Manager
	adaptor storage.Adaptor
	catalog storage.Catalog

	logger      zerolog.Logger
	defaultName string

	// scopeMu keeps workspace changes out of in-flight writes. Writes hold it
	// shared, workspace creation and deletion hold it exclusively.
	scopeMu sync.RWMutex
}

type Option func(m *Manager) error

// WithLogger sets the logger. The default discards everything.
func WithLogger(l zerolog.Logger) Option {
	return func(m *Manager) error {
		m.logger = l
		return nil
	}
}

// WithDefaultWorkspace names the default workspace. Replicas that exchange
// revisions must agree on it.
func WithDefaultWorkspace(name string) Option {
	return func(m *Manager) error {
		if name == "" {
			return errors.New("default workspace name must not be empty")
		}
		m.defaultName = name
		return nil
	}
}

// New returns a Manager persisting through adaptor. If adaptor also
// implements storage.Catalog, records and workspaces are registered with it
// and Restore can rebuild the indices from it.
func New(adaptor storage.Adaptor, opts ...Option) (*Manager, error) {
	if adaptor == nil {
		return nil, errors.New("storage adaptor is required")
	}
	m := &Manager{
		adaptor:     adaptor,
		logger:      zerolog.Nop(),
		defaultName: constants.DefaultWorkspaceName,
	}
	for _, opt := range opts {
		if err := opt(m); err != nil {
			return nil, err
		}
	}
	m.catalog, _ = adaptor.(storage.Catalog)
	m.ids = identifier.New()
	m.revs = revindex.New(m.ids)
	m.trees = revtree.NewIndex()
	m.spaces = workspace.New(m.defaultName)
	m.logger = m.logger.With().Str("component", "multiversion").Logger()
	return m, nil
}

// DefaultWorkspace returns the id of the default workspace.
func (m *Manager) DefaultWorkspace() models.WorkspaceID {
	return m.spaces.DefaultWorkspace().ID
}

// Workspaces exposes the workspace registry for lookups.
func (m *Manager) Workspaces() *workspace.Manager {
	return m.spaces
}

// Records returns every record that has at least one revision.
func (m *Manager) Records() []models.RecordID {
	return m.trees.Records()
}

// RecordType returns the type a record was created with.
func (m *Manager) RecordType(rec models.RecordID) (string, error) {
	loc, err := m.ids.Resolve(rec)
	if err != nil {
		return "", err
	}
	return loc.Type, nil
}

func (m *Manager) startSpan(ctx context.Context, op string, attrs ...attribute.KeyValue) (context.Context, trace.Span, func(error)) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "multiversion.Manager."+op, trace.WithAttributes(attrs...))
	timer := prometheus.NewTimer(operationDuration.WithLabelValues(op))
	return ctx, span, func(err error) {
		timer.ObserveDuration()
		operationsTotal.WithLabelValues(op, resultLabel(err)).Inc()
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			if errors.Is(err, constants.ErrStructuralIntegrity) || errors.Is(err, constants.ErrInvariantViolation) {
				m.logger.Error().Err(err).Str("op", op).Msg("integrity violation")
			}
		}
		span.End()
	}
}
