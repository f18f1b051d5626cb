package backend

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/simplemem/pkg/domain/interfaces"
	"github.com/secmon-lab/simplemem/pkg/domain/model"
	"github.com/secmon-lab/simplemem/pkg/domain/types"
	"github.com/secmon-lab/simplemem/pkg/utils/logging"
)

const (
	// DefaultTimeout bounds each call into the extraction engine
	DefaultTimeout = 60 * time.Second
	// DefaultConcurrency is the number of dialogues extracted in parallel
	DefaultConcurrency = 4
)

// Store implements interfaces.Backend over a RecordTable and an Extractor.
// Ingest only takes the buffer mutex. Finalize, Clear and Delete hold tableMu
// exclusively; reads hold it shared.
type Store struct {
	kind      types.BackendType
	table     interfaces.RecordTable
	extractor interfaces.Extractor

	timeout     time.Duration
	concurrency int
	now         func() time.Time

	initMu      sync.Mutex
	initialized atomic.Bool

	buf     *buffer
	tableMu sync.RWMutex

	// staged keeps extracted records of dialogues that went back to the
	// buffer, so a retry writes the same entry IDs without a new extraction.
	// Guarded by tableMu.
	staged     map[*model.Dialogue][]*model.MemoryRecord
	lastCommit time.Time
}

var _ interfaces.Backend = &Store{}

// Option is a functional option for Store
type Option func(*Store)

// WithTimeout sets the deadline of each extraction engine call
func WithTimeout(d time.Duration) Option {
	return func(s *Store) {
		if d > 0 {
			s.timeout = d
		}
	}
}

// WithConcurrency sets how many dialogues finalize extracts in parallel
func WithConcurrency(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.concurrency = n
		}
	}
}

// WithClock replaces time.Now, for tests
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		s.now = now
	}
}

// New creates a backend. extractor may be nil; Initialize then fails with
// model.ErrBackendUnavailable.
func New(kind types.BackendType, table interfaces.RecordTable, extractor interfaces.Extractor, opts ...Option) *Store {
	s := &Store{
		kind:        kind,
		table:       table,
		extractor:   extractor,
		timeout:     DefaultTimeout,
		concurrency: DefaultConcurrency,
		now:         time.Now,
		buf:         newBuffer(),
		staged:      make(map[*model.Dialogue][]*model.MemoryRecord),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) Initialize(ctx context.Context) error {
	s.initMu.Lock()
	defer s.initMu.Unlock()

	if s.initialized.Load() {
		return nil
	}

	if s.extractor == nil {
		return goerr.Wrap(model.ErrBackendUnavailable, "extraction engine is not configured",
			goerr.V(model.BackendTypeKey, s.kind))
	}

	if err := s.table.Open(ctx); err != nil {
		return goerr.Wrap(err, "failed to open record table",
			goerr.V(model.BackendTypeKey, s.kind),
			goerr.V(model.TableNameKey, s.table.Name()))
	}

	s.initialized.Store(true)
	logging.From(ctx).Info("Backend initialized",
		"backend", s.kind,
		"table", s.table.Name(),
		"location", s.table.Location(),
	)
	return nil
}

func (s *Store) IsInitialized() bool {
	return s.initialized.Load()
}

func (s *Store) ready() error {
	if !s.initialized.Load() {
		return goerr.Wrap(model.ErrNotInitialized, "backend is not initialized", goerr.V(model.BackendTypeKey, s.kind))
	}
	return nil
}

func (s *Store) Add(ctx context.Context, dialogue *model.Dialogue) error {
	_, err := s.AddMany(ctx, []*model.Dialogue{dialogue})
	return err
}

// AddMany validates every dialogue before buffering any, so a bad unit
// rejects the whole call.
func (s *Store) AddMany(ctx context.Context, dialogues []*model.Dialogue) (int, error) {
	if err := s.ready(); err != nil {
		return 0, err
	}

	now := s.now()
	normalized := make([]*model.Dialogue, 0, len(dialogues))
	for i, d := range dialogues {
		if err := d.Validate(); err != nil {
			return 0, goerr.Wrap(err, "rejected dialogue", goerr.V("index", i))
		}
		normalized = append(normalized, d.Normalize(now))
	}

	if len(normalized) > 0 {
		s.buf.append(normalized...)
	}
	return len(normalized), nil
}

func (s *Store) Query(ctx context.Context, query model.Query) (*model.Answer, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	query = query.Normalize()

	hits, err := s.search(ctx, query.Question, query.Limit, query.Threshold)
	if err != nil {
		return nil, err
	}

	answer := &model.Answer{
		Evidence: make([]model.EntryID, 0, len(hits)),
		Records:  hits,
	}
	if len(hits) == 0 {
		answer.Answer = model.NoMemoryAnswer
		return answer, nil
	}
	for _, rec := range hits {
		answer.Evidence = append(answer.Evidence, rec.EntryID)
	}

	callCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	text, err := s.extractor.Answer(callCtx, query.Question, hits)
	if err != nil {
		return nil, s.engineError(ctx, err, model.ErrAnswerFailed, "failed to synthesize answer")
	}
	answer.Answer = text
	return answer, nil
}

func (s *Store) Search(ctx context.Context, question string, limit int, threshold *float64) ([]*model.MemoryRecord, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	q := model.Query{Question: question, Limit: limit, Threshold: threshold}.Normalize()
	return s.search(ctx, q.Question, q.Limit, q.Threshold)
}

// search embeds the question and runs a similarity search. The table lock is
// held only around the table access, not the engine call.
func (s *Store) search(ctx context.Context, question string, limit int, threshold *float64) ([]*model.MemoryRecord, error) {
	if strings.TrimSpace(question) == "" {
		return nil, goerr.Wrap(model.ErrInvalidInput, "question is empty")
	}
	if threshold != nil && (*threshold < 0 || *threshold > 1) {
		return nil, goerr.Wrap(model.ErrInvalidInput, "threshold must be between 0 and 1", goerr.V("threshold", *threshold))
	}

	callCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	vector, err := s.extractor.Embed(callCtx, question)
	if err != nil {
		return nil, s.engineError(ctx, err, model.ErrAnswerFailed, "failed to embed question")
	}

	s.tableMu.RLock()
	defer s.tableMu.RUnlock()

	hits, err := s.table.Search(ctx, vector, limit, threshold)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to search records", goerr.V(model.TableNameKey, s.table.Name()))
	}

	records := make([]*model.MemoryRecord, len(hits))
	for i, h := range hits {
		records[i] = h.Record
	}
	return records, nil
}

// engineError classifies a failed engine call. A deadline hit by the call
// itself, not the caller, is a timeout.
func (s *Store) engineError(ctx context.Context, err error, kind error, msg string) error {
	if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
		return goerr.Wrap(model.ErrBackendTimeout, msg, goerr.V("timeout", s.timeout.String()), goerr.V("error", err.Error()))
	}
	if ctx.Err() != nil {
		return goerr.Wrap(ctx.Err(), msg)
	}
	return goerr.Wrap(kind, msg, goerr.V("error", err.Error()))
}

func (s *Store) List(ctx context.Context, limit int) ([]*model.MemoryRecord, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}

	s.tableMu.RLock()
	defer s.tableMu.RUnlock()

	records, err := s.table.List(ctx, limit)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to list records")
	}
	return records, nil
}

func (s *Store) Count(ctx context.Context) (int, error) {
	if err := s.ready(); err != nil {
		return 0, err
	}

	s.tableMu.RLock()
	defer s.tableMu.RUnlock()

	count, err := s.table.Count(ctx)
	if err != nil {
		return 0, goerr.Wrap(err, "failed to count records")
	}
	return count, nil
}

func (s *Store) Stats(ctx context.Context) (*model.Stats, error) {
	count, err := s.Count(ctx)
	if err != nil {
		return nil, err
	}
	pending, state := s.buf.snapshot()

	return &model.Stats{
		Count:       count,
		TableName:   s.table.Name(),
		Path:        s.table.Location(),
		BackendType: s.kind,
		Pending:     pending,
		State:       state,
	}, nil
}

func (s *Store) Delete(ctx context.Context, id model.EntryID) error {
	if err := s.ready(); err != nil {
		return err
	}
	if id == "" {
		return goerr.Wrap(model.ErrInvalidInput, "entry id is empty")
	}

	s.tableMu.Lock()
	defer s.tableMu.Unlock()

	if err := s.table.Delete(ctx, id); err != nil {
		return goerr.Wrap(err, "failed to delete record", goerr.V(model.EntryIDKey, id))
	}
	return nil
}

// Clear deletes every persisted record. The pending buffer is left as is.
func (s *Store) Clear(ctx context.Context, confirmed bool) error {
	if !confirmed {
		return goerr.Wrap(model.ErrClearNotConfirmed, "refusing to clear without confirmation")
	}
	if err := s.ready(); err != nil {
		return err
	}

	s.tableMu.Lock()
	defer s.tableMu.Unlock()

	if err := s.table.DeleteAll(ctx); err != nil {
		return goerr.Wrap(err, "failed to clear records", goerr.V(model.TableNameKey, s.table.Name()))
	}

	logging.From(ctx).Warn("All memory records cleared", "backend", s.kind, "table", s.table.Name())
	return nil
}

func (s *Store) Close() error {
	if pending, _ := s.buf.snapshot(); pending > 0 {
		logging.Default().Warn("Closing backend with unfinalized dialogues", "pending", pending)
	}
	if err := s.table.Close(); err != nil {
		return goerr.Wrap(err, "failed to close record table")
	}
	return nil
}
