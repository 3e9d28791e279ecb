/*
Copyright © 2026 Acronis International GmbH.

Released under MIT license.
*/

package migrate

import (
	"context"
	"fmt"
	"time"

	"github.com/acronis/go-appkit/log"
	"github.com/google/uuid"

	"github.com/acronis/go-sdbmigrate"
	"github.com/acronis/go-sdbmigrate/dbconn"
	"github.com/acronis/go-sdbmigrate/envstate"
	"github.com/acronis/go-sdbmigrate/session"
	"github.com/acronis/go-sdbmigrate/sharding"
	"github.com/acronis/go-sdbmigrate/sqltmpl"
	"github.com/acronis/go-sdbmigrate/statetable"
)

// MetricsCollector receives migration run metrics. *sdbmigrate.PrometheusMetrics implements it.
type MetricsCollector interface {
	ObserveApplied(database, mode string, duration time.Duration)
	IncSkipped(database, reason string)
	SetSchemaVersion(database string, version int64)
}

type disabledMetrics struct{}

func (disabledMetrics) ObserveApplied(string, string, time.Duration) {}
func (disabledMetrics) IncSkipped(string, string)                    {}
func (disabledMetrics) SetSchemaVersion(string, int64)               {}

// Manager initializes state of every configured database and applies migrations to them.
// Databases are processed sequentially in configuration order.
type Manager struct {
	cfg      *sdbmigrate.Config
	sessions []*session.Session
	logger   log.FieldLogger
	sharding *sharding.Manager
	env      *envstate.Manager
	metrics  MetricsCollector
	runID    string

	dryRun           bool
	forceUpdateEnv   bool
	strictDialectSQL bool
	targetVersion    *int64
	lockTTL          time.Duration
}

// ManagerOption is a functional option for Manager configuration.
type ManagerOption func(*Manager)

// WithDryRun makes transactional migrations roll back and skips non-transactional ones.
func WithDryRun(dryRun bool) ManagerOption {
	return func(m *Manager) {
		m.dryRun = dryRun
	}
}

// WithForceUpdateEnv overwrites the persisted environment with the configured one.
func WithForceUpdateEnv(force bool) ManagerOption {
	return func(m *Manager) {
		m.forceUpdateEnv = force
	}
}

// WithTargetVersion stops processing a database once its schema version reaches the target.
func WithTargetVersion(version int64) ManagerOption {
	return func(m *Manager) {
		m.targetVersion = &version
	}
}

// WithStrictDialectSQL disables the fallback of SQL bodies to the default dialect section.
func WithStrictDialectSQL(strict bool) ManagerOption {
	return func(m *Manager) {
		m.strictDialectSQL = strict
	}
}

// WithRunLock makes Run hold a lock on every database with the given TTL. Zero disables the lock.
func WithRunLock(ttl time.Duration) ManagerOption {
	return func(m *Manager) {
		m.lockTTL = ttl
	}
}

// WithMetrics sets the metrics collector.
func WithMetrics(metrics MetricsCollector) ManagerOption {
	return func(m *Manager) {
		if metrics != nil {
			m.metrics = metrics
		}
	}
}

// WithRunID sets the run identifier (uuid) used in logs, reports and as the run lock token.
func WithRunID(runID string) ManagerOption {
	return func(m *Manager) {
		m.runID = runID
	}
}

// NewManager creates a new migrations manager over opened sessions.
// Sessions must follow the order of cfg.Databases.
func NewManager(
	cfg *sdbmigrate.Config, sessions []*session.Session, logger log.FieldLogger, opts ...ManagerOption,
) (*Manager, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger cannot be nil")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if len(sessions) != len(cfg.Databases) {
		return nil, fmt.Errorf("%w: %d sessions for %d databases", sdbmigrate.ErrInvalidConfig, len(sessions), len(cfg.Databases))
	}

	m := &Manager{
		cfg:      cfg,
		sessions: sessions,
		metrics:  disabledMetrics{},
		runID:    uuid.NewString(),
	}
	for _, opt := range opts {
		opt(m)
	}
	if _, err := uuid.Parse(m.runID); err != nil {
		return nil, fmt.Errorf("run id must be uuid: %w", err)
	}
	m.logger = logger.With(log.String("run_id", m.runID))
	m.sharding = sharding.NewManager(cfg, m.logger)
	m.env = envstate.NewManager(cfg.Env, m.logger)
	return m, nil
}

// OpenSessions opens connections to every configured database in configuration order.
// Already opened sessions are closed if any database is unreachable.
func OpenSessions(
	cfg *sdbmigrate.Config, stateSchema string, logger log.FieldLogger, opts ...sdbmigrate.OpenOption,
) ([]*session.Session, error) {
	sessions := make([]*session.Session, 0, len(cfg.Databases))
	for i, dbCfg := range cfg.Databases {
		s, err := session.Open(dbCfg, i, stateSchema, logger, opts...)
		if err != nil {
			_ = CloseSessions(sessions)
			return nil, err
		}
		sessions = append(sessions, s)
	}
	return sessions, nil
}

// CloseSessions closes connections of all sessions and returns the first error.
func CloseSessions(sessions []*session.Session) error {
	var firstErr error
	for _, s := range sessions {
		if err := s.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// RunID returns the run identifier.
func (m *Manager) RunID() string {
	return m.runID
}

// Sessions returns sessions of the manager in configuration order.
func (m *Manager) Sessions() []*session.Session {
	return m.sessions
}

// Init creates state tables, writes the sharding state and the environment on first use
// and loads the persisted state of every database, verifying it against the configuration.
func (m *Manager) Init(ctx context.Context) error {
	for _, s := range m.sessions {
		if err := s.Trx.WithTransaction(ctx, func(cur *dbconn.Cursor) error {
			return m.initState(ctx, cur, s)
		}); err != nil {
			return fmt.Errorf("init state on %s: %w", s, err)
		}
		if err := s.Trx.WithTransaction(ctx, func(cur *dbconn.Cursor) error {
			return m.loadState(ctx, cur, s)
		}); err != nil {
			return fmt.Errorf("load state on %s: %w", s, err)
		}
		m.metrics.SetSchemaVersion(s.String(), s.SchemaVersion)
		m.logger.Info("database state is loaded", log.String("db", s.String()),
			log.Int64("schema_version", s.SchemaVersion), log.Int("shards", len(s.ShardIDs)))
	}
	return nil
}

func (m *Manager) initState(ctx context.Context, cur *dbconn.Cursor, s *session.Session) error {
	if err := statetable.Ensure(ctx, cur, s, m.logger); err != nil {
		return err
	}
	if _, err := m.sharding.Initialize(ctx, cur, s); err != nil {
		return err
	}
	written, err := m.env.Initialize(ctx, cur, s, m.forceUpdateEnv)
	if err != nil {
		return err
	}
	if written {
		m.logger.Info("env is written", log.String("db", s.String()))
	}
	return nil
}

func (m *Manager) loadState(ctx context.Context, cur *dbconn.Cursor, s *session.Session) error {
	if err := m.sharding.Load(ctx, cur, s); err != nil {
		return err
	}
	if err := statetable.LoadApplied(ctx, cur, s); err != nil {
		return err
	}
	return m.env.VerifyAndLoad(ctx, cur, s)
}

// Apply applies pending migrations to every database in configuration order.
// The run is aborted on the first failure, the returned *sdbmigrate.ExecutionError names
// the migration and the database. The report covers databases processed so far.
func (m *Manager) Apply(ctx context.Context, migrations []*Migration) (*Report, error) {
	sorted, err := sortMigrations(migrations)
	if err != nil {
		return nil, err
	}
	report := &Report{RunID: m.runID, DryRun: m.dryRun}
	for _, s := range m.sessions {
		dbReport := DatabaseReport{Database: s.String(), StartVersion: s.SchemaVersion}
		applyErr := m.applyToDatabase(ctx, s, sorted, &dbReport)
		dbReport.SchemaVersion = s.SchemaVersion
		report.Databases = append(report.Databases, dbReport)
		if applyErr != nil {
			return report, applyErr
		}
	}
	return report, nil
}

func (m *Manager) applyToDatabase(ctx context.Context, s *session.Session, migrations []*Migration, report *DatabaseReport) error {
	logger := m.logger.With(log.String("db", s.String()))
	logger.Info("applying migrations", log.Int64("schema_version", s.SchemaVersion))

	for _, mig := range migrations {
		if m.targetVersion != nil && s.SchemaVersion >= *m.targetVersion {
			logger.Info("target schema version is reached", log.Int64("target_version", *m.targetVersion),
				log.Int64("schema_version", s.SchemaVersion))
			report.TargetReached = true
			return nil
		}
		if s.SchemaVersion >= mig.Version() {
			logger.Debug("migration is already applied", log.String("migration", mig.FileName()))
			continue
		}

		started := time.Now()
		outcome, err := m.applyMigration(ctx, s, mig)
		if err != nil {
			logger.Error("migration failed", log.String("migration", mig.FileName()), log.Error(err))
			return &sdbmigrate.ExecutionError{Migration: mig.FileName(), Database: s.String(), Err: err}
		}

		switch outcome {
		case outcomeApplied:
			report.Applied = append(report.Applied, mig.FileName())
			m.metrics.ObserveApplied(s.String(), string(mig.TxMode()), time.Since(started))
			logger.Info("migration is applied", log.String("migration", mig.FileName()),
				log.Duration("duration", time.Since(started)))
		case outcomeRolledBack:
			report.RolledBack = append(report.RolledBack, mig.FileName())
			m.metrics.IncSkipped(s.String(), sdbmigrate.SkipReasonDryRunRollback)
			logger.Info("migration is rolled back because of dry-run", log.String("migration", mig.FileName()))
		case outcomeSkipped:
			report.Skipped = append(report.Skipped, mig.FileName())
			m.metrics.IncSkipped(s.String(), sdbmigrate.SkipReasonDryRunNoTrx)
			logger.Info("non-transactional migration is skipped because of dry-run", log.String("migration", mig.FileName()))
			continue
		}
		s.SchemaVersion = mig.Version()
		m.metrics.SetSchemaVersion(s.String(), s.SchemaVersion)
	}
	return nil
}

type applyOutcome int

const (
	outcomeApplied applyOutcome = iota
	outcomeRolledBack
	outcomeSkipped
)

// applyMigration runs the migration body and records it.
// In TRX mode the body and the record share one transaction. In NOTRX mode both take effect statement by statement.
func (m *Manager) applyMigration(ctx context.Context, s *session.Session, mig *Migration) (applyOutcome, error) {
	if !mig.Transactional() {
		if m.dryRun {
			return outcomeSkipped, nil
		}
		err := s.NoTrx.WithAutocommit(ctx, func(cur *dbconn.Cursor) error {
			if err := m.execBody(ctx, cur, s, mig); err != nil {
				return err
			}
			return statetable.RecordApplied(ctx, cur, s, mig.Version(), mig.FileName())
		})
		return outcomeApplied, err
	}

	err := s.Trx.WithTransaction(ctx, func(cur *dbconn.Cursor) error {
		if err := m.execBody(ctx, cur, s, mig); err != nil {
			return err
		}
		if err := statetable.RecordApplied(ctx, cur, s, mig.Version(), mig.FileName()); err != nil {
			return err
		}
		if m.dryRun {
			return cur.Rollback()
		}
		return nil
	})
	if m.dryRun {
		return outcomeRolledBack, err
	}
	return outcomeApplied, err
}

// execBody runs the body once for PLAIN migrations and once per shard of the database for SHARD ones.
func (m *Manager) execBody(ctx context.Context, cur *dbconn.Cursor, s *session.Session, mig *Migration) error {
	body, err := mig.Body()
	if err != nil {
		return err
	}
	if mig.Lang() == LangExpr {
		if !mig.PerShard() {
			return runScript(ctx, cur, body, s.Env, nil)
		}
		for _, shardID := range s.ShardIDs {
			shardID := shardID
			if err = runScript(ctx, cur, body, s.Env, &shardID); err != nil {
				return fmt.Errorf("shard %d: %w", shardID, err)
			}
		}
		return nil
	}

	statements, err := m.sqlStatements(s, body)
	if err != nil {
		return err
	}
	if !mig.PerShard() {
		return execStatements(ctx, cur, statements, nil)
	}
	for _, shardID := range s.ShardIDs {
		shardID := shardID
		if err = execStatements(ctx, cur, statements, &shardID); err != nil {
			return fmt.Errorf("shard %d: %w", shardID, err)
		}
	}
	return nil
}

// sqlStatements picks the dialect section of the body, substitutes env values and
// the state schema and splits it into statements. <shard_id> is left for execStatements.
func (m *Manager) sqlStatements(s *session.Session, body string) ([]string, error) {
	tmpl, err := ParseSQLBody(body)
	if err != nil {
		return nil, err
	}
	if tmpl == (sqltmpl.Template{}) {
		return nil, nil
	}
	text, err := tmpl.Variant(s.Dialect, m.strictDialectSQL)
	if err != nil {
		return nil, err
	}
	return sqltmpl.Split(s.Dialect, sqltmpl.Resolve(text, s.Vars())), nil
}

func execStatements(ctx context.Context, cur *dbconn.Cursor, statements []string, shardID *int) error {
	for _, stmt := range statements {
		if shardID != nil {
			stmt = sqltmpl.ResolveShard(stmt, *shardID)
		}
		if _, err := cur.Exec(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}
