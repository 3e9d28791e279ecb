/*
Copyright © 2026 Acronis International GmbH.

Released under MIT license.
*/

// Package sharding computes, persists and verifies the shard ids owned by every database.
package sharding

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/acronis/go-appkit/log"
	"github.com/doug-martin/goqu/v9"

	"github.com/acronis/go-sdbmigrate"
	"github.com/acronis/go-sdbmigrate/dbconn"
	"github.com/acronis/go-sdbmigrate/session"
	"github.com/acronis/go-sdbmigrate/statetable"
)

// stateRowID is the id of the single row of the sharding state table.
const stateRowID = 0

// Manager initializes and loads the sharding state of databases.
type Manager struct {
	cfg    *sdbmigrate.Config
	logger log.FieldLogger
}

// NewManager creates a new sharding state manager.
func NewManager(cfg *sdbmigrate.Config, logger log.FieldLogger) *Manager {
	return &Manager{cfg: cfg, logger: logger}
}

// AutoShardIDs returns the contiguous block of shard ids owned by the database with the index
// when total shards are distributed between dbCount databases evenly.
func AutoShardIDs(index, total, dbCount int) ([]int, error) {
	if dbCount <= 0 || total%dbCount != 0 {
		return nil, fmt.Errorf("%w: can't distribute %d shards on %d databases fairly",
			sdbmigrate.ErrInvalidShardingConfig, total, dbCount)
	}
	if index < 0 || index >= dbCount {
		return nil, fmt.Errorf("%w: database index %d is out of range [0, %d)",
			sdbmigrate.ErrInvalidShardingConfig, index, dbCount)
	}
	perDB := total / dbCount
	ids := make([]int, 0, perDB)
	for id := index * perDB; id < (index+1)*perDB; id++ {
		ids = append(ids, id)
	}
	return ids, nil
}

// ManualShardIDs returns the union of inclusive ranges in declaration order.
func ManualShardIDs(ranges []sdbmigrate.ShardRange) []int {
	ids := []int{}
	for _, r := range ranges {
		for id := r.Min; id <= r.Max; id++ {
			ids = append(ids, id)
		}
	}
	return ids
}

// ShardIDs computes shard ids owned by the database of the session according to the configuration.
func (m *Manager) ShardIDs(s *session.Session) ([]int, error) {
	switch m.cfg.ShardDistributionMode {
	case "", sdbmigrate.ShardDistributionNone:
		return []int{}, nil
	case sdbmigrate.ShardDistributionAuto:
		if _, err := m.cfg.AutoShardsPerDB(); err != nil {
			return nil, err
		}
		return AutoShardIDs(s.Index, m.cfg.ShardCount, len(m.cfg.Databases))
	case sdbmigrate.ShardDistributionManual:
		return ManualShardIDs(s.Config.Shards), nil
	}
	return nil, fmt.Errorf("%w: invalid shard_distribution_mode %q",
		sdbmigrate.ErrInvalidShardingConfig, m.cfg.ShardDistributionMode)
}

// IsInitialized reports whether the sharding state row exists.
func (m *Manager) IsInitialized(ctx context.Context, cur *dbconn.Cursor, s *session.Session) (bool, error) {
	query, args, err := statetable.Builder(s).
		From(statetable.Table(s, statetable.ShardingState)).
		Select(goqu.COUNT(goqu.Star())).
		Where(goqu.C("id").Eq(stateRowID)).
		Prepared(true).ToSQL()
	if err != nil {
		return false, fmt.Errorf("build query: %w", err)
	}
	row, err := cur.QueryRow(ctx, query, args...)
	if err != nil {
		return false, err
	}
	var cnt int
	if err = row.Scan(&cnt); err != nil {
		return false, fmt.Errorf("check sharding state on %s: %w", s, err)
	}
	return cnt > 0, nil
}

// Initialize persists shard ids of the database unless the state is already initialized.
// It returns true if the state was written.
func (m *Manager) Initialize(ctx context.Context, cur *dbconn.Cursor, s *session.Session) (bool, error) {
	initialized, err := m.IsInitialized(ctx, cur, s)
	if err != nil {
		return false, err
	}
	if initialized {
		m.logger.Debug("sharding state is already initialized", log.String("db", s.String()))
		return false, nil
	}

	shardIDs, err := m.ShardIDs(s)
	if err != nil {
		return false, err
	}
	encoded, err := json.Marshal(shardIDs)
	if err != nil {
		return false, fmt.Errorf("encode shard ids: %w", err)
	}
	query, args, err := statetable.Builder(s).
		Insert(statetable.Table(s, statetable.ShardingState)).
		Rows(goqu.Record{"id": stateRowID, "shard_count": m.cfg.ShardCount, "shard_ids": string(encoded)}).
		Prepared(true).ToSQL()
	if err != nil {
		return false, fmt.Errorf("build query: %w", err)
	}
	if _, err = cur.Exec(ctx, query, args...); err != nil {
		return false, fmt.Errorf("initialize sharding state on %s: %w", s, err)
	}
	m.logger.Info("sharding state is initialized", log.String("db", s.String()),
		log.Int("shard_count", m.cfg.ShardCount), log.String("shard_ids", string(encoded)))
	return true, nil
}

// Load reads the persisted sharding state, verifies it against the configuration and
// sets shard ids of the session.
func (m *Manager) Load(ctx context.Context, cur *dbconn.Cursor, s *session.Session) error {
	query, args, err := statetable.Builder(s).
		From(statetable.Table(s, statetable.ShardingState)).
		Select("shard_count", "shard_ids").
		Where(goqu.C("id").Eq(stateRowID)).
		Prepared(true).ToSQL()
	if err != nil {
		return fmt.Errorf("build query: %w", err)
	}
	row, err := cur.QueryRow(ctx, query, args...)
	if err != nil {
		return err
	}
	var (
		shardCount int
		rawIDs     []byte
	)
	if err = row.Scan(&shardCount, &rawIDs); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("%w: sharding state is not initialized on %s", sdbmigrate.ErrInvalidShardingConfig, s)
		}
		return fmt.Errorf("load sharding state on %s: %w", s, err)
	}
	if shardCount != m.cfg.ShardCount {
		return fmt.Errorf("%w: different number of shards on %s (%d) and in config (%d)",
			sdbmigrate.ErrInvalidShardingConfig, s, shardCount, m.cfg.ShardCount)
	}
	var shardIDs []int
	if err = json.Unmarshal(rawIDs, &shardIDs); err != nil {
		return fmt.Errorf("decode shard ids on %s: %w", s, err)
	}
	s.ShardIDs = shardIDs
	m.logger.Debug("sharding state is loaded", log.String("db", s.String()), log.String("shard_ids", string(rawIDs)))
	return nil
}
