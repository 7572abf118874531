// Package tsdb reads raw point samples from QuestDB. QuestDB speaks the
// Postgres wire protocol, so the client is a thin read-only layer over pgx
// against the time-partitioned point_data table.
package tsdb

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Sample is one raw reading of a point.
type Sample struct {
	TS    time.Time
	Value float64
}

// SampleStore reads raw samples for a point over a time window.
type SampleStore interface {
	// Samples returns up to limit of the most recent samples for the
	// sequence id within [start, end], in ascending time order. A missing
	// table reads as zero samples, not an error.
	Samples(ctx context.Context, sequenceID int64, start, end time.Time, limit int) ([]Sample, error)
	// SampleCount returns how many samples exist for the sequence id within
	// [start, end]. A missing table reads as zero.
	SampleCount(ctx context.Context, sequenceID int64, start, end time.Time) (int64, error)
}

// Client implements SampleStore against QuestDB.
type Client struct {
	pool  *pgxpool.Pool
	table string
}

// NewClient connects to the QuestDB pg-wire endpoint.
func NewClient(ctx context.Context, connString, table string) (*Client, error) {
	config, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("failed to parse tsdb config: %w", err)
	}

	// QuestDB's pg-wire server rejects the extended protocol's automatic
	// statement cache, so use simple protocol exec mode.
	config.ConnConfig.DefaultQueryExecMode = pgx.QueryExecModeSimpleProtocol

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create tsdb pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping tsdb: %w", err)
	}

	return &Client{pool: pool, table: table}, nil
}

// Samples returns up to limit of the most recent samples within the window,
// ascending by time.
func (c *Client) Samples(ctx context.Context, sequenceID int64, start, end time.Time, limit int) ([]Sample, error) {
	// QuestDB prunes partitions on the ts predicate; LIMIT -n takes the last
	// n rows of the ordered result, which keeps the scan bounded.
	query := fmt.Sprintf(
		`SELECT ts, value FROM %s WHERE sequence_id = $1 AND ts >= $2 AND ts <= $3 ORDER BY ts LIMIT -%d`,
		c.table, limit,
	)

	rows, err := c.pool.Query(ctx, query, sequenceID, start.UTC(), end.UTC())
	if err != nil {
		if IsMissingTable(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to query samples: %w", err)
	}
	defer rows.Close()

	samples := []Sample{}
	for rows.Next() {
		var s Sample
		if err := rows.Scan(&s.TS, &s.Value); err != nil {
			return nil, fmt.Errorf("failed to scan sample: %w", err)
		}
		s.TS = s.TS.UTC()
		samples = append(samples, s)
	}
	if err := rows.Err(); err != nil {
		if IsMissingTable(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("row iteration error: %w", err)
	}

	return samples, nil
}

// SampleCount returns the number of samples in the window.
func (c *Client) SampleCount(ctx context.Context, sequenceID int64, start, end time.Time) (int64, error) {
	query := fmt.Sprintf(
		`SELECT count(*) FROM %s WHERE sequence_id = $1 AND ts >= $2 AND ts <= $3`,
		c.table,
	)

	var count int64
	err := c.pool.QueryRow(ctx, query, sequenceID, start.UTC(), end.UTC()).Scan(&count)
	if err != nil {
		if IsMissingTable(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to count samples: %w", err)
	}
	return count, nil
}

// Ping verifies the connection for readiness probes.
func (c *Client) Ping(ctx context.Context) error {
	return c.pool.Ping(ctx)
}

// Close releases the connection pool.
func (c *Client) Close() error {
	c.pool.Close()
	return nil
}

// IsMissingTable reports whether err is QuestDB's cold-start "table does not
// exist" error, which callers treat as an empty result.
func IsMissingTable(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "table does not exist") ||
		strings.Contains(msg, "does not exist")
}
