package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/naia-systems/naia-stack/internal/models"
)

// PostgresRepository implements Repository using PostgreSQL.
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresRepository creates a new PostgreSQL repository.
func NewPostgresRepository(ctx context.Context, connString string) (*PostgresRepository, error) {
	config, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database config: %w", err)
	}

	config.MaxConns = 25
	config.MinConns = 5
	config.MaxConnLifetime = 5 * time.Minute
	config.MaxConnIdleTime = 1 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &PostgresRepository{pool: pool}, nil
}

// ListEnabledPoints returns enabled points that carry a sequence id.
func (r *PostgresRepository) ListEnabledPoints(ctx context.Context) ([]*models.Point, error) {
	query := `
		SELECT id, sequence_id, name, data_source_id, enabled
		FROM points
		WHERE enabled = true AND sequence_id IS NOT NULL
		ORDER BY sequence_id
	`

	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list points: %w", err)
	}
	defer rows.Close()

	points := []*models.Point{}
	for rows.Next() {
		p := &models.Point{}
		if err := rows.Scan(&p.ID, &p.SequenceID, &p.Name, &p.DataSourceID, &p.Enabled); err != nil {
			return nil, fmt.Errorf("failed to scan point: %w", err)
		}
		points = append(points, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}

	return points, nil
}

// UpsertBehavior writes a fingerprint keyed by point id, replacing any prior
// run's row.
func (r *PostgresRepository) UpsertBehavior(ctx context.Context, b *models.PointBehavior) error {
	query := `
		INSERT INTO point_behaviors (
			point_id, sequence_id, sample_count, window_start, window_end,
			mean, stddev, min_value, max_value, update_rate_hz, computed_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (point_id) DO UPDATE SET
			sequence_id = EXCLUDED.sequence_id,
			sample_count = EXCLUDED.sample_count,
			window_start = EXCLUDED.window_start,
			window_end = EXCLUDED.window_end,
			mean = EXCLUDED.mean,
			stddev = EXCLUDED.stddev,
			min_value = EXCLUDED.min_value,
			max_value = EXCLUDED.max_value,
			update_rate_hz = EXCLUDED.update_rate_hz,
			computed_at = EXCLUDED.computed_at
	`

	_, err := r.pool.Exec(ctx, query,
		b.PointID, b.SequenceID, b.SampleCount, b.WindowStart, b.WindowEnd,
		b.Mean, b.StdDev, b.Min, b.Max, b.UpdateRateHz, b.ComputedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert behavior: %w", err)
	}
	return nil
}

// ListBehaviors returns current fingerprints, optionally restricted to one
// data source.
func (r *PostgresRepository) ListBehaviors(ctx context.Context, dataSourceID string) ([]*models.PointBehavior, error) {
	query := `
		SELECT b.point_id, b.sequence_id, b.sample_count, b.window_start, b.window_end,
			b.mean, b.stddev, b.min_value, b.max_value, b.update_rate_hz, b.computed_at
		FROM point_behaviors b
	`
	args := []interface{}{}
	if dataSourceID != "" {
		query += ` JOIN points p ON p.id = b.point_id WHERE p.data_source_id = $1`
		args = append(args, dataSourceID)
	}
	query += ` ORDER BY b.point_id`

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list behaviors: %w", err)
	}
	defer rows.Close()

	behaviors := []*models.PointBehavior{}
	for rows.Next() {
		b := &models.PointBehavior{}
		if err := rows.Scan(
			&b.PointID, &b.SequenceID, &b.SampleCount, &b.WindowStart, &b.WindowEnd,
			&b.Mean, &b.StdDev, &b.Min, &b.Max, &b.UpdateRateHz, &b.ComputedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan behavior: %w", err)
		}
		behaviors = append(behaviors, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}

	return behaviors, nil
}

// GetBehavior returns the current fingerprint of one point, or nil when no
// fingerprint exists.
func (r *PostgresRepository) GetBehavior(ctx context.Context, pointID string) (*models.PointBehavior, error) {
	query := `
		SELECT point_id, sequence_id, sample_count, window_start, window_end,
			mean, stddev, min_value, max_value, update_rate_hz, computed_at
		FROM point_behaviors
		WHERE point_id = $1
	`

	b := &models.PointBehavior{}
	err := r.pool.QueryRow(ctx, query, pointID).Scan(
		&b.PointID, &b.SequenceID, &b.SampleCount, &b.WindowStart, &b.WindowEnd,
		&b.Mean, &b.StdDev, &b.Min, &b.Max, &b.UpdateRateHz, &b.ComputedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get behavior: %w", err)
	}
	return b, nil
}

// ReplaceCorrelationGraph atomically swaps the sparse correlation graph for
// the new batch's edge list.
func (r *PostgresRepository) ReplaceCorrelationGraph(ctx context.Context, batchID string, edges []models.CorrelationEdge) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM correlation_edges`); err != nil {
		return fmt.Errorf("failed to clear correlation graph: %w", err)
	}

	for _, e := range edges {
		_, err := tx.Exec(ctx, `
			INSERT INTO correlation_edges (point_a, point_b, coefficient, batch_id)
			VALUES ($1, $2, $3, $4)
		`, e.PointA, e.PointB, e.Coefficient, batchID)
		if err != nil {
			return fmt.Errorf("failed to insert correlation edge: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit correlation graph: %w", err)
	}
	return nil
}

// ListCorrelationEdges returns the current correlation graph.
func (r *PostgresRepository) ListCorrelationEdges(ctx context.Context) ([]models.CorrelationEdge, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT point_a, point_b, coefficient, batch_id
		FROM correlation_edges
		ORDER BY point_a, point_b
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list correlation edges: %w", err)
	}
	defer rows.Close()

	edges := []models.CorrelationEdge{}
	for rows.Next() {
		var e models.CorrelationEdge
		if err := rows.Scan(&e.PointA, &e.PointB, &e.Coefficient, &e.BatchID); err != nil {
			return nil, fmt.Errorf("failed to scan correlation edge: %w", err)
		}
		edges = append(edges, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}

	return edges, nil
}

// InsertCorrelationSummary appends one immutable pass summary.
func (r *PostgresRepository) InsertCorrelationSummary(ctx context.Context, s *models.CorrelationSummary) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO correlation_summaries (
			batch_id, point_ids, significant_pairs, avg_correlation,
			window_start, window_end, created_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, s.BatchID, s.PointIDs, s.SignificantPairs, s.AvgCorrelation,
		s.WindowStart, s.WindowEnd, s.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert correlation summary: %w", err)
	}
	return nil
}

// CreateCluster inserts one immutable cluster detection.
func (r *PostgresRepository) CreateCluster(ctx context.Context, c *models.Cluster) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO behavioral_clusters (
			id, source, point_ids, point_names, avg_correlation,
			cohesion, name_prefix, created_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, c.ID, c.Source, c.PointIDs, c.PointNames, c.AvgCorrelation,
		c.Cohesion, c.NamePrefix, c.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create cluster: %w", err)
	}
	return nil
}

// GetCluster returns one cluster by id, or nil when it does not exist.
func (r *PostgresRepository) GetCluster(ctx context.Context, id string) (*models.Cluster, error) {
	c := &models.Cluster{}
	err := r.pool.QueryRow(ctx, `
		SELECT id, source, point_ids, point_names, avg_correlation,
			cohesion, name_prefix, created_at
		FROM behavioral_clusters
		WHERE id = $1
	`, id).Scan(
		&c.ID, &c.Source, &c.PointIDs, &c.PointNames, &c.AvgCorrelation,
		&c.Cohesion, &c.NamePrefix, &c.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get cluster: %w", err)
	}
	return c, nil
}

// ListClustersSince returns clusters created at or after since, newest first.
func (r *PostgresRepository) ListClustersSince(ctx context.Context, since time.Time) ([]*models.Cluster, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, source, point_ids, point_names, avg_correlation,
			cohesion, name_prefix, created_at
		FROM behavioral_clusters
		WHERE created_at >= $1
		ORDER BY created_at DESC
	`, since)
	if err != nil {
		return nil, fmt.Errorf("failed to list clusters: %w", err)
	}
	defer rows.Close()

	clusters := []*models.Cluster{}
	for rows.Next() {
		c := &models.Cluster{}
		if err := rows.Scan(
			&c.ID, &c.Source, &c.PointIDs, &c.PointNames, &c.AvgCorrelation,
			&c.Cohesion, &c.NamePrefix, &c.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan cluster: %w", err)
		}
		clusters = append(clusters, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}

	return clusters, nil
}

// CreatePattern inserts a pattern and its ordered roles.
func (r *PostgresRepository) CreatePattern(ctx context.Context, p *models.Pattern) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `
		INSERT INTO patterns (
			id, name, category, description, confidence, example_count,
			system_seeded, created_at, last_matched_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, p.ID, p.Name, p.Category, p.Description, p.Confidence, p.ExampleCount,
		p.SystemSeeded, p.CreatedAt, p.LastMatchedAt)
	if err != nil {
		return fmt.Errorf("failed to create pattern: %w", err)
	}

	for i, role := range p.Roles {
		_, err := tx.Exec(ctx, `
			INSERT INTO pattern_roles (
				pattern_id, position, name, description, name_rules,
				min_value, max_value, units, typical_rate_hz, required
			)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		`, p.ID, i, role.Name, role.Description, role.NameRules,
			role.MinValue, role.MaxValue, role.Units, role.TypicalRateHz, role.Required)
		if err != nil {
			return fmt.Errorf("failed to create pattern role: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit pattern: %w", err)
	}
	return nil
}

// GetPattern returns a pattern with its roles in definition order.
func (r *PostgresRepository) GetPattern(ctx context.Context, id string) (*models.Pattern, error) {
	p := &models.Pattern{}
	err := r.pool.QueryRow(ctx, `
		SELECT id, name, category, description, confidence, example_count,
			system_seeded, created_at, last_matched_at
		FROM patterns
		WHERE id = $1
	`, id).Scan(
		&p.ID, &p.Name, &p.Category, &p.Description, &p.Confidence,
		&p.ExampleCount, &p.SystemSeeded, &p.CreatedAt, &p.LastMatchedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrPatternNotFound
		}
		return nil, fmt.Errorf("failed to get pattern: %w", err)
	}

	roles, err := r.listRoles(ctx, []string{id})
	if err != nil {
		return nil, err
	}
	p.Roles = roles[id]
	return p, nil
}

// ListPatterns returns the full pattern library with roles.
func (r *PostgresRepository) ListPatterns(ctx context.Context) ([]*models.Pattern, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, name, category, description, confidence, example_count,
			system_seeded, created_at, last_matched_at
		FROM patterns
		ORDER BY name
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list patterns: %w", err)
	}
	defer rows.Close()

	patterns := []*models.Pattern{}
	ids := []string{}
	for rows.Next() {
		p := &models.Pattern{}
		if err := rows.Scan(
			&p.ID, &p.Name, &p.Category, &p.Description, &p.Confidence,
			&p.ExampleCount, &p.SystemSeeded, &p.CreatedAt, &p.LastMatchedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan pattern: %w", err)
		}
		patterns = append(patterns, p)
		ids = append(ids, p.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}

	roles, err := r.listRoles(ctx, ids)
	if err != nil {
		return nil, err
	}
	for _, p := range patterns {
		p.Roles = roles[p.ID]
	}
	return patterns, nil
}

func (r *PostgresRepository) listRoles(ctx context.Context, patternIDs []string) (map[string][]models.PatternRole, error) {
	if len(patternIDs) == 0 {
		return map[string][]models.PatternRole{}, nil
	}

	rows, err := r.pool.Query(ctx, `
		SELECT pattern_id, name, description, name_rules,
			min_value, max_value, units, typical_rate_hz, required
		FROM pattern_roles
		WHERE pattern_id = ANY($1)
		ORDER BY pattern_id, position
	`, patternIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to list pattern roles: %w", err)
	}
	defer rows.Close()

	out := map[string][]models.PatternRole{}
	for rows.Next() {
		var patternID string
		var role models.PatternRole
		if err := rows.Scan(
			&patternID, &role.Name, &role.Description, &role.NameRules,
			&role.MinValue, &role.MaxValue, &role.Units, &role.TypicalRateHz, &role.Required,
		); err != nil {
			return nil, fmt.Errorf("failed to scan pattern role: %w", err)
		}
		out[patternID] = append(out[patternID], role)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}
	return out, nil
}

// UpdatePatternLearning writes learner-owned fields.
func (r *PostgresRepository) UpdatePatternLearning(ctx context.Context, id string, confidence float64, exampleCount int) error {
	result, err := r.pool.Exec(ctx, `
		UPDATE patterns
		SET confidence = $1, example_count = $2
		WHERE id = $3
	`, confidence, exampleCount, id)
	if err != nil {
		return fmt.Errorf("failed to update pattern learning: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrPatternNotFound
	}
	return nil
}

// AddRoleNameRule appends a naming rule to one role of a pattern, skipping
// duplicates.
func (r *PostgresRepository) AddRoleNameRule(ctx context.Context, patternID, roleName, rule string) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE pattern_roles
		SET name_rules = array_append(name_rules, $1)
		WHERE pattern_id = $2 AND name = $3 AND NOT ($1 = ANY(name_rules))
	`, rule, patternID, roleName)
	if err != nil {
		return fmt.Errorf("failed to add role name rule: %w", err)
	}
	return nil
}

// TouchPatternMatched records the most recent match time.
func (r *PostgresRepository) TouchPatternMatched(ctx context.Context, id string, matchedAt time.Time) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE patterns SET last_matched_at = $1 WHERE id = $2
	`, matchedAt, id)
	if err != nil {
		return fmt.Errorf("failed to touch pattern: %w", err)
	}
	return nil
}

// DecayInactivePatterns multiplies the confidence of stale patterns by
// factor. Confidence stays within [0,1] because factor is within [0,1].
func (r *PostgresRepository) DecayInactivePatterns(ctx context.Context, cutoff time.Time, factor float64) (int64, error) {
	result, err := r.pool.Exec(ctx, `
		UPDATE patterns
		SET confidence = confidence * $1
		WHERE COALESCE(last_matched_at, created_at) < $2
	`, factor, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to decay patterns: %w", err)
	}
	return result.RowsAffected(), nil
}

// UpsertSuggestion inserts or refreshes the (cluster, pattern) suggestion.
// The guarded update leaves terminal rows untouched, in which case RETURNING
// yields no row and the result is nil.
func (r *PostgresRepository) UpsertSuggestion(ctx context.Context, s *models.Suggestion) (*models.Suggestion, error) {
	stored := *s
	err := r.pool.QueryRow(ctx, `
		INSERT INTO pattern_suggestions (
			id, cluster_id, pattern_id, overall_confidence,
			naming_score, correlation_score, range_score, rate_score,
			reason, status, created_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (cluster_id, pattern_id) DO UPDATE SET
			overall_confidence = EXCLUDED.overall_confidence,
			naming_score = EXCLUDED.naming_score,
			correlation_score = EXCLUDED.correlation_score,
			range_score = EXCLUDED.range_score,
			rate_score = EXCLUDED.rate_score,
			reason = EXCLUDED.reason
		WHERE pattern_suggestions.status IN ('pending', 'deferred')
		RETURNING id, status, created_at
	`, s.ID, s.ClusterID, s.PatternID, s.Confidence,
		s.NamingScore, s.CorrelationScore, s.RangeScore, s.RateScore,
		s.Reason, s.Status, s.CreatedAt).Scan(&stored.ID, &stored.Status, &stored.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to upsert suggestion: %w", err)
	}
	return &stored, nil
}

// GetSuggestion returns the suggestion for one (cluster, pattern) pair.
func (r *PostgresRepository) GetSuggestion(ctx context.Context, clusterID, patternID string) (*models.Suggestion, error) {
	s := &models.Suggestion{}
	err := r.pool.QueryRow(ctx, `
		SELECT id, cluster_id, pattern_id, overall_confidence,
			naming_score, correlation_score, range_score, rate_score,
			reason, status, created_at, reviewed_at, reviewed_by, rejection_reason
		FROM pattern_suggestions
		WHERE cluster_id = $1 AND pattern_id = $2
	`, clusterID, patternID).Scan(
		&s.ID, &s.ClusterID, &s.PatternID, &s.Confidence,
		&s.NamingScore, &s.CorrelationScore, &s.RangeScore, &s.RateScore,
		&s.Reason, &s.Status, &s.CreatedAt, &s.ReviewedAt, &s.ReviewedBy, &s.RejectionReason,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrSuggestionNotFound
		}
		return nil, fmt.Errorf("failed to get suggestion: %w", err)
	}
	return s, nil
}

// ReviewSuggestion records a human decision on a suggestion. Rows already in
// a terminal status are left untouched.
func (r *PostgresRepository) ReviewSuggestion(ctx context.Context, suggestionID, status, reviewedBy string, rejectionReason *string, reviewedAt time.Time) error {
	result, err := r.pool.Exec(ctx, `
		UPDATE pattern_suggestions
		SET status = $1, reviewed_by = $2, rejection_reason = $3, reviewed_at = $4
		WHERE id = $5 AND status IN ('pending', 'deferred')
	`, status, reviewedBy, rejectionReason, reviewedAt, suggestionID)
	if err != nil {
		return fmt.Errorf("failed to review suggestion: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrSuggestionNotFound
	}
	return nil
}

// ExpirePendingSuggestions transitions stale pending suggestions to expired.
// The status guard makes the transition one-way.
func (r *PostgresRepository) ExpirePendingSuggestions(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := r.pool.Exec(ctx, `
		UPDATE pattern_suggestions
		SET status = 'expired', reviewed_at = now()
		WHERE status = 'pending' AND created_at < $1
	`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to expire suggestions: %w", err)
	}
	return result.RowsAffected(), nil
}

// InsertFeedback appends one reviewer action.
func (r *PostgresRepository) InsertFeedback(ctx context.Context, f *models.FeedbackRecord) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO pattern_feedback (
			id, suggestion_id, pattern_id, cluster_id, action,
			confidence_at_action, reason, reviewed_by, created_at, processed
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, f.ID, f.SuggestionID, f.PatternID, f.ClusterID, f.Action,
		f.ConfidenceAtAction, f.Reason, f.ReviewedBy, f.CreatedAt, f.Processed)
	if err != nil {
		return fmt.Errorf("failed to insert feedback: %w", err)
	}
	return nil
}

// ListUnprocessedFeedback returns pending feedback oldest first.
func (r *PostgresRepository) ListUnprocessedFeedback(ctx context.Context, limit int) ([]*models.FeedbackRecord, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, suggestion_id, pattern_id, cluster_id, action,
			confidence_at_action, reason, reviewed_by, created_at, processed
		FROM pattern_feedback
		WHERE processed = false
		ORDER BY created_at
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list feedback: %w", err)
	}
	defer rows.Close()

	records := []*models.FeedbackRecord{}
	for rows.Next() {
		f := &models.FeedbackRecord{}
		if err := rows.Scan(
			&f.ID, &f.SuggestionID, &f.PatternID, &f.ClusterID, &f.Action,
			&f.ConfidenceAtAction, &f.Reason, &f.ReviewedBy, &f.CreatedAt, &f.Processed,
		); err != nil {
			return nil, fmt.Errorf("failed to scan feedback: %w", err)
		}
		records = append(records, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}

	return records, nil
}

// MarkFeedbackProcessed flags one record as consumed.
func (r *PostgresRepository) MarkFeedbackProcessed(ctx context.Context, id string) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE pattern_feedback SET processed = true WHERE id = $1
	`, id)
	if err != nil {
		return fmt.Errorf("failed to mark feedback processed: %w", err)
	}
	return nil
}

// Ping verifies the database connection for readiness probes.
func (r *PostgresRepository) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}

// Close closes the database connection pool.
func (r *PostgresRepository) Close() error {
	r.pool.Close()
	return nil
}
