package summary

import (
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"cleanloop/internal/api"
	"cleanloop/internal/config"
	"cleanloop/pkg/logging"
)

const entityType = "runs"

// Clock stamps run records.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// RunRecord is one persisted clean run: its identity, the images it
// cleaned, the final controller details and the full summary log.
type RunRecord struct {
	ID         string               `yaml:"id" json:"id"`
	StartedAt  time.Time            `yaml:"startedAt" json:"startedAt"`
	FinishedAt time.Time            `yaml:"finishedAt,omitempty" json:"finishedAt,omitempty"`
	Images     []string             `yaml:"images" json:"images"`
	Params     api.IterationParams  `yaml:"params" json:"params"`
	Details    api.IterationDetails `yaml:"details" json:"details"`
	Summary    api.IterationSummary `yaml:"summary" json:"summary"`
	Error      string               `yaml:"error,omitempty" json:"error,omitempty"`
}

// Duration is the wall time of a finished run.
func (r RunRecord) Duration() time.Duration {
	if r.FinishedAt.IsZero() {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}

// Store persists run records as YAML documents, one per run id.
type Store struct {
	storage *config.Storage
	clock   Clock
}

// Option configures a Store.
type Option func(*Store)

// WithClock replaces the wall clock used for timestamps.
func WithClock(c Clock) Option {
	return func(s *Store) {
		s.clock = c
	}
}

// NewStore creates a store on top of storage.
func NewStore(storage *config.Storage, opts ...Option) *Store {
	s := &Store{storage: storage, clock: realClock{}}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Begin starts a new run record with a fresh id.
func (s *Store) Begin(params api.IterationParams, images ...string) *RunRecord {
	return &RunRecord{
		ID:        uuid.New().String(),
		StartedAt: s.clock.Now(),
		Images:    images,
		Params:    params,
	}
}

// Finish stamps the record with the controller's final state and saves it.
// runErr, when set, is stored with the record; the summary log up to the
// failure is kept either way.
func (s *Store) Finish(rec *RunRecord, details api.IterationDetails, sum api.IterationSummary, runErr error) error {
	rec.FinishedAt = s.clock.Now()
	rec.Details = details
	rec.Summary = sum
	if runErr != nil {
		rec.Error = runErr.Error()
	}
	return s.Save(rec)
}

// Save writes the record.
func (s *Store) Save(rec *RunRecord) error {
	if _, err := uuid.Parse(rec.ID); err != nil {
		return api.NewInvalidParameterError("id", rec.ID, "not a run id")
	}
	data, err := yaml.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal run %s: %w", rec.ID, err)
	}
	if err := s.storage.Save(entityType, rec.ID, data); err != nil {
		return err
	}
	logging.Info("Storage", "Saved run %s (%d summary records)", rec.ID, len(rec.Summary.Records))
	return nil
}

// Get loads one run. A missing run is a NotFound error.
func (s *Store) Get(id string) (*RunRecord, error) {
	data, err := s.storage.Load(entityType, id)
	if err != nil {
		if api.IsNotFound(err) {
			return nil, api.NewNotFoundError("run", id)
		}
		return nil, err
	}
	var rec RunRecord
	if err := yaml.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("failed to parse run %s: %w", id, err)
	}
	return &rec, nil
}

// List returns every stored run, newest first. Unreadable files are
// logged and skipped.
func (s *Store) List() ([]RunRecord, error) {
	names, err := s.storage.List(entityType)
	if err != nil {
		return nil, err
	}
	runs := make([]RunRecord, 0, len(names))
	for _, name := range names {
		rec, err := s.Get(name)
		if err != nil {
			logging.Warn("Storage", "Skipping run %s: %v", name, err)
			continue
		}
		runs = append(runs, *rec)
	}
	sort.SliceStable(runs, func(i, j int) bool {
		return runs[i].StartedAt.After(runs[j].StartedAt)
	})
	return runs, nil
}

// Delete removes a run.
func (s *Store) Delete(id string) error {
	if err := s.storage.Delete(entityType, id); err != nil {
		if api.IsNotFound(err) {
			return api.NewNotFoundError("run", id)
		}
		return err
	}
	return nil
}
