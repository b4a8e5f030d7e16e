// ABOUTME: Store facade bundling entity CRUD with search, queries, and indexes
// ABOUTME: Everything shares one injected Pool; construct with New

package store

import (
	"log/slog"
)

// Option adjusts a Store during construction.
type Option func(*Store)

// WithAnalyzeThresholds overrides the index analysis heuristics.
func WithAnalyzeThresholds(t AnalyzeThresholds) Option {
	return func(s *Store) { s.thresholds = t }
}

// WithSnippetLength overrides the search snippet length in runes.
func WithSnippetLength(runes int) Option {
	return func(s *Store) { s.snippetLen = runes }
}

// Store is the top-level handle over one email database. Entity CRUD lives
// directly on Store; richer read paths hang off Search and Queries, and
// index maintenance off Indexes. All of them share the same Pool, so a
// Store is safe for concurrent use.
type Store struct {
	pool   *Pool
	logger *slog.Logger

	thresholds AnalyzeThresholds
	snippetLen int

	search  *SearchEngine
	queries *Queries
	indexes *IndexManager
}

// New builds a Store over an opened pool. The pool stays owned by the
// caller; closing the Store is closing the pool.
func New(pool *Pool, logger *slog.Logger, opts ...Option) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Store{
		pool:   pool,
		logger: logger.With("component", "store"),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.search = NewSearchEngine(pool, s.snippetLen, logger)
	s.queries = NewQueries(pool, logger)
	s.indexes = NewIndexManager(pool, s.thresholds, logger)
	return s
}

// Pool returns the underlying connection pool.
func (s *Store) Pool() *Pool { return s.pool }

// Search returns the full-text search engine.
func (s *Store) Search() *SearchEngine { return s.search }

// Queries returns the filtered query composer.
func (s *Store) Queries() *Queries { return s.queries }

// Indexes returns the index manager.
func (s *Store) Indexes() *IndexManager { return s.indexes }

// Close closes the underlying pool.
func (s *Store) Close() error { return s.pool.Close() }
