package config

import (
	"log/slog"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/simplemem/pkg/backend"
	"github.com/secmon-lab/simplemem/pkg/domain/interfaces"
	"github.com/secmon-lab/simplemem/pkg/domain/types"
	"github.com/secmon-lab/simplemem/pkg/repository/local"
	"github.com/urfave/cli/v3"
)

const (
	DefaultPath      = "./simplemem_data"
	DefaultTableName = "memories"
)

// Store holds CLI flags for the memory backend
type Store struct {
	backend             string
	path                string
	tableName           string
	firestoreProjectID  string
	firestoreDatabaseID string
	timeout             time.Duration
	concurrency         int
}

// Flags returns CLI flags for store configuration
func (s *Store) Flags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "backend",
			Aliases:     []string{"b"},
			Usage:       "Memory backend (local, memory, firestore, neo4j)",
			Value:       string(types.BackendLocal),
			Category:    "Store",
			Sources:     cli.EnvVars("SIMPLEMEM_BACKEND"),
			Destination: &s.backend,
		},
		&cli.StringFlag{
			Name:        "path",
			Usage:       "Directory of the local backend",
			Value:       DefaultPath,
			Category:    "Store",
			Sources:     cli.EnvVars("SIMPLEMEM_PATH"),
			Destination: &s.path,
		},
		&cli.StringFlag{
			Name:        "table-name",
			Usage:       "Name of the memory table (collection prefix for firestore)",
			Value:       DefaultTableName,
			Category:    "Store",
			Sources:     cli.EnvVars("SIMPLEMEM_TABLE_NAME"),
			Destination: &s.tableName,
		},
		&cli.StringFlag{
			Name:        "firestore-project-id",
			Usage:       "Firestore Project ID (required when using firestore backend)",
			Category:    "Store",
			Sources:     cli.EnvVars("SIMPLEMEM_FIRESTORE_PROJECT_ID"),
			Destination: &s.firestoreProjectID,
		},
		&cli.StringFlag{
			Name:        "firestore-database-id",
			Usage:       "Firestore Database ID",
			Category:    "Store",
			Sources:     cli.EnvVars("SIMPLEMEM_FIRESTORE_DATABASE_ID"),
			Destination: &s.firestoreDatabaseID,
		},
		&cli.DurationFlag{
			Name:        "engine-timeout",
			Usage:       "Timeout of a single extraction, embedding or answer call",
			Value:       backend.DefaultTimeout,
			Category:    "Store",
			Sources:     cli.EnvVars("SIMPLEMEM_ENGINE_TIMEOUT"),
			Destination: &s.timeout,
		},
		&cli.IntFlag{
			Name:        "finalize-concurrency",
			Usage:       "Number of dialogues extracted in parallel during finalize",
			Value:       backend.DefaultConcurrency,
			Category:    "Store",
			Sources:     cli.EnvVars("SIMPLEMEM_FINALIZE_CONCURRENCY"),
			Destination: &s.concurrency,
		},
	}
}

func (s Store) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("backend", s.backend),
		slog.String("path", s.path),
		slog.String("table_name", s.tableName),
		slog.String("firestore_project_id", s.firestoreProjectID),
		slog.String("firestore_database_id", s.firestoreDatabaseID),
		slog.Duration("engine_timeout", s.timeout),
		slog.Int("finalize_concurrency", s.concurrency),
	)
}

// Validate checks the values without building anything
func (s *Store) Validate() error {
	t, err := types.ParseBackendType(s.backend)
	if err != nil {
		return goerr.Wrap(ErrInvalidConfig, "unknown backend",
			goerr.V(FlagKey, "backend"), goerr.V(ValueKey, s.backend))
	}
	if !local.ValidTableName(s.tableName) {
		return goerr.Wrap(ErrInvalidConfig, "table name must start with a letter or underscore and contain only letters, digits and underscores (max 64)",
			goerr.V(FlagKey, "table-name"), goerr.V(ValueKey, s.tableName))
	}
	if t == types.BackendFirestore && s.firestoreProjectID == "" {
		return goerr.Wrap(ErrInvalidConfig, "firestore-project-id is required when using firestore backend",
			goerr.V(FlagKey, "firestore-project-id"))
	}
	if s.timeout < 0 {
		return goerr.Wrap(ErrInvalidConfig, "engine timeout must not be negative",
			goerr.V(FlagKey, "engine-timeout"), goerr.V(ValueKey, s.timeout))
	}
	if s.concurrency < 0 {
		return goerr.Wrap(ErrInvalidConfig, "finalize concurrency must not be negative",
			goerr.V(FlagKey, "finalize-concurrency"), goerr.V(ValueKey, s.concurrency))
	}
	return nil
}

// Configure builds the backend configuration. ext may be nil.
func (s *Store) Configure(ext interfaces.Extractor) (backend.Config, error) {
	if err := s.Validate(); err != nil {
		return backend.Config{}, err
	}
	t, _ := types.ParseBackendType(s.backend)

	return backend.Config{
		Type:                t,
		Path:                s.path,
		TableName:           s.tableName,
		FirestoreProjectID:  s.firestoreProjectID,
		FirestoreDatabaseID: s.firestoreDatabaseID,
		Extractor:           ext,
		Timeout:             s.timeout,
		Concurrency:         s.concurrency,
	}, nil
}

// TableName returns the configured table name
func (s *Store) TableName() string {
	return s.tableName
}

// FirestoreProjectID returns the Firestore project ID
func (s *Store) FirestoreProjectID() string {
	return s.firestoreProjectID
}

// FirestoreDatabaseID returns the Firestore database ID
func (s *Store) FirestoreDatabaseID() string {
	return s.firestoreDatabaseID
}

func (s *Store) applyFile(c isSetter, f *StoreFile) {
	if f == nil {
		return
	}
	setString(c, "backend", &s.backend, f.Backend)
	setString(c, "path", &s.path, f.Path)
	setString(c, "table-name", &s.tableName, f.TableName)
	setString(c, "firestore-project-id", &s.firestoreProjectID, f.FirestoreProjectID)
	setString(c, "firestore-database-id", &s.firestoreDatabaseID, f.FirestoreDatabaseID)
	if f.EngineTimeout != "" && !c.IsSet("engine-timeout") {
		if d, err := time.ParseDuration(f.EngineTimeout); err == nil {
			s.timeout = d
		}
	}
	if f.FinalizeConcurrency > 0 && !c.IsSet("finalize-concurrency") {
		s.concurrency = f.FinalizeConcurrency
	}
}
