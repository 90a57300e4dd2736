package collector

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/fanyang89/sql-insight/internal/model"
)

// PostgresConn is the database access the PostgreSQL collectors need.
type PostgresConn interface {
	// Pairs reads a two-column (text, text) result into a map.
	Pairs(ctx context.Context, query string) (map[string]string, error)
	TableSizes(ctx context.Context, limit int) ([]model.PostgresTableSize, error)
	Indexes(ctx context.Context, limit int) ([]model.PostgresIndex, error)
	// QueryText returns the first column of the first row, nil for NULL or
	// no rows.
	QueryText(ctx context.Context, query string) (*string, error)
	Exec(ctx context.Context, stmt string) error
	Close()
}

const pgStatusQuery = `SELECT metric, value FROM (
     SELECT 'numbackends' AS metric, COALESCE(SUM(numbackends), 0)::text AS value FROM pg_stat_database
     UNION ALL SELECT 'xact_commit', COALESCE(SUM(xact_commit), 0)::text FROM pg_stat_database
     UNION ALL SELECT 'xact_rollback', COALESCE(SUM(xact_rollback), 0)::text FROM pg_stat_database
     UNION ALL SELECT 'blks_read', COALESCE(SUM(blks_read), 0)::text FROM pg_stat_database
     UNION ALL SELECT 'blks_hit', COALESCE(SUM(blks_hit), 0)::text FROM pg_stat_database
     UNION ALL SELECT 'tup_returned', COALESCE(SUM(tup_returned), 0)::text FROM pg_stat_database
     UNION ALL SELECT 'tup_fetched', COALESCE(SUM(tup_fetched), 0)::text FROM pg_stat_database
     UNION ALL SELECT 'tup_inserted', COALESCE(SUM(tup_inserted), 0)::text FROM pg_stat_database
     UNION ALL SELECT 'tup_updated', COALESCE(SUM(tup_updated), 0)::text FROM pg_stat_database
     UNION ALL SELECT 'tup_deleted', COALESCE(SUM(tup_deleted), 0)::text FROM pg_stat_database
     UNION ALL SELECT 'deadlocks', COALESCE(SUM(deadlocks), 0)::text FROM pg_stat_database
 ) s`

const pgSettingsQuery = `SELECT name, setting FROM pg_settings`

const pgTableSizesQuery = `SELECT n.nspname AS table_schema,
        c.relname AS table_name,
        COALESCE(c.reltuples, 0)::bigint AS estimated_rows,
        COALESCE(pg_relation_size(c.oid), 0)::bigint AS data_length,
        COALESCE(pg_indexes_size(c.oid), 0)::bigint AS index_length,
        COALESCE(pg_total_relation_size(c.oid), 0)::bigint AS total_length
 FROM pg_class c
 JOIN pg_namespace n ON n.oid = c.relnamespace
 WHERE c.relkind = 'r'
   AND n.nspname NOT IN ('pg_catalog', 'information_schema')
 ORDER BY total_length DESC
 LIMIT $1`

const pgIndexesQuery = `SELECT schemaname, tablename, indexname, indexdef
 FROM pg_indexes
 WHERE schemaname NOT IN ('pg_catalog', 'information_schema')
 ORDER BY schemaname, tablename, indexname
 LIMIT $1`

const pgReplicationQuery = `SELECT metric, value FROM (
     SELECT 'is_in_recovery' AS metric, pg_is_in_recovery()::text AS value
     UNION ALL SELECT 'replication_clients', COALESCE(COUNT(*), 0)::text FROM pg_stat_replication
     UNION ALL SELECT 'wal_receiver_status', COALESCE((SELECT status FROM pg_stat_wal_receiver LIMIT 1), '')
 ) s`

// OpenPostgres connects a small pool and pings. Errors carry the report
// wording.
func OpenPostgres(ctx context.Context, rawURL string) (PostgresConn, error) {
	cfg, err := pgxpool.ParseConfig(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid POSTGRES_URL format: %w", err)
	}
	cfg.MaxConns = 2
	cfg.ConnConfig.ConnectTimeout = 10 * time.Second

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to connect PostgreSQL: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to connect PostgreSQL: %w", err)
	}
	return &pgxConn{pool: pool}, nil
}

type pgxConn struct {
	pool *pgxpool.Pool
}

func (c *pgxConn) Pairs(ctx context.Context, query string) (map[string]string, error) {
	rows, err := c.pool.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]string)
	for rows.Next() {
		var k string
		var v *string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, err
		}
		if v != nil {
			out[k] = *v
		} else {
			out[k] = ""
		}
	}
	return out, rows.Err()
}

func (c *pgxConn) TableSizes(ctx context.Context, limit int) ([]model.PostgresTableSize, error) {
	rows, err := c.pool.Query(ctx, pgTableSizesQuery, int64(limit))
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowToStructByPos[model.PostgresTableSize])
}

func (c *pgxConn) Indexes(ctx context.Context, limit int) ([]model.PostgresIndex, error) {
	rows, err := c.pool.Query(ctx, pgIndexesQuery, int64(limit))
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowToStructByPos[model.PostgresIndex])
}

func (c *pgxConn) QueryText(ctx context.Context, query string) (*string, error) {
	var v *string
	err := c.pool.QueryRow(ctx, query).Scan(&v)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return v, err
}

func (c *pgxConn) Exec(ctx context.Context, stmt string) error {
	_, err := c.pool.Exec(ctx, stmt)
	return err
}

func (c *pgxConn) Close() { c.pool.Close() }

// CollectPostgresLevel0 gathers pg_stat_database totals, pg_settings,
// relation sizes, index definitions and replication state.
func CollectPostgresLevel0(ctx context.Context, conn PostgresConn, cfg Level0Config) model.PostgresLevel0Report {
	warns := newWarnList("level0.postgres")
	report := model.PostgresLevel0Report{CollectedAtUnixMs: time.Now().UnixMilli()}
	report.Capability.PostgresConnected = true

	if m, err := conn.Pairs(ctx, pgStatusQuery); err != nil {
		warns.addf("failed querying pg_stat_database: %v", err)
	} else {
		report.Capability.HasStatusAccess = true
		report.Postgres.GlobalStatus = m
	}

	if m, err := conn.Pairs(ctx, pgSettingsQuery); err != nil {
		warns.addf("failed querying pg_settings: %v", err)
	} else {
		report.Capability.HasSettingsAccess = true
		report.Postgres.GlobalVariables = m
	}

	tables, tableErr := conn.TableSizes(ctx, cfg.TableLimit)
	if tableErr != nil {
		warns.addf("failed querying relation sizes: %v", tableErr)
	} else {
		report.Postgres.TableSizes = tables
	}
	indexes, indexErr := conn.Indexes(ctx, cfg.IndexLimit)
	if indexErr != nil {
		warns.addf("failed querying pg_indexes: %v", indexErr)
	} else {
		report.Postgres.Indexes = indexes
	}
	report.Capability.HasStorageAccess = tableErr == nil && indexErr == nil

	if m, err := conn.Pairs(ctx, pgReplicationQuery); err != nil {
		warns.addf("failed querying replication status: %v", err)
	} else {
		report.Capability.HasReplicationStatusAccess = true
		report.Postgres.ReplicationStatus = m
	}

	report.Warnings = warns.list()
	return report
}

// SkippedPostgresLevel0 is the report when no connection could be made.
func SkippedPostgresLevel0(warnings ...string) model.PostgresLevel0Report {
	w := newWarnList("level0.postgres")
	for _, msg := range warnings {
		w.add(msg)
	}
	return model.PostgresLevel0Report{
		CollectedAtUnixMs: time.Now().UnixMilli(),
		Warnings:          w.list(),
	}
}
