package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite" // SQLite driver
)

// SQLiteCatalog implements Catalog using SQLite for persistence.
type SQLiteCatalog struct {
	mu     sync.RWMutex
	db     *sql.DB
	dbPath string
}

// NewSQLiteCatalog creates a catalogue rooted at projectRoot, at
// .starcat/starcat.db.
func NewSQLiteCatalog(projectRoot string) (*SQLiteCatalog, error) {
	dir := LocalStarcatPath(projectRoot)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create .starcat directory: %w", err)
	}
	return OpenSQLiteCatalog(filepath.Join(dir, DatabaseFile))
}

// OpenSQLiteCatalog opens (creating if needed) the catalogue at dbPath.
func OpenSQLiteCatalog(dbPath string) (*SQLiteCatalog, error) {
	db, err := sql.Open("sqlite", dbPath+"?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(1) // SQLite works best with single writer

	if err := InitSchema(context.Background(), db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &SQLiteCatalog{db: db, dbPath: dbPath}, nil
}

// Path returns the database file path.
func (s *SQLiteCatalog) Path() string {
	return s.dbPath
}

// SavePopulation upserts the cluster row and replaces its stars.
func (s *SQLiteCatalog) SavePopulation(ctx context.Context, spec ClusterSpec, ids []string, distances []float64) (*Cluster, error) {
	if err := ValidatePopulation(spec, ids, distances); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC().Format(time.RFC3339Nano)
	var seed any
	if spec.Seed != nil {
		seed = int64(*spec.Seed)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO clusters (name, true_distance, rms_fractional_error, seed, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET
			true_distance = excluded.true_distance,
			rms_fractional_error = excluded.rms_fractional_error,
			seed = excluded.seed,
			updated_at = excluded.updated_at`,
		spec.Name, spec.TrueDistance, spec.RMSFractionalError, seed, now, now)
	if err != nil {
		return nil, fmt.Errorf("failed to upsert cluster %s: %w", spec.Name, err)
	}

	var clusterID int64
	if err := tx.QueryRowContext(ctx, `SELECT id FROM clusters WHERE name = ?`, spec.Name).Scan(&clusterID); err != nil {
		return nil, fmt.Errorf("failed to resolve cluster id: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM stars WHERE cluster_id = ?`, clusterID); err != nil {
		return nil, fmt.Errorf("failed to clear stars: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO stars (cluster_id, observation_id, distance) VALUES (?, ?, ?)`)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare star insert: %w", err)
	}
	defer stmt.Close()

	for i := range ids {
		if _, err := stmt.ExecContext(ctx, clusterID, ids[i], distances[i]); err != nil {
			return nil, fmt.Errorf("failed to insert star %s: %w", ids[i], err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit population: %w", err)
	}

	return s.getCluster(ctx, spec.Name)
}

// GetCluster returns a cluster by name.
func (s *SQLiteCatalog) GetCluster(ctx context.Context, name string) (*Cluster, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.getCluster(ctx, name)
}

const clusterSelect = `
	SELECT c.id, c.name, c.true_distance, c.rms_fractional_error, c.seed,
	       c.created_at, c.updated_at, COUNT(s.id)
	FROM clusters c
	LEFT JOIN stars s ON s.cluster_id = c.id`

func (s *SQLiteCatalog) getCluster(ctx context.Context, name string) (*Cluster, error) {
	row := s.db.QueryRowContext(ctx, clusterSelect+` WHERE c.name = ? GROUP BY c.id`, name)
	c, err := scanCluster(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrClusterNotFound, name)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get cluster %s: %w", name, err)
	}
	return c, nil
}

// ListClusters returns every cluster with its star count, ordered by name.
func (s *SQLiteCatalog) ListClusters(ctx context.Context) ([]Cluster, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, clusterSelect+` GROUP BY c.id ORDER BY c.name`)
	if err != nil {
		return nil, fmt.Errorf("failed to list clusters: %w", err)
	}
	defer rows.Close()

	var clusters []Cluster
	for rows.Next() {
		c, err := scanCluster(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan cluster: %w", err)
		}
		clusters = append(clusters, *c)
	}
	return clusters, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCluster(row rowScanner) (*Cluster, error) {
	var (
		c                    Cluster
		seed                 sql.NullInt64
		createdAt, updatedAt string
	)
	if err := row.Scan(&c.ID, &c.Name, &c.TrueDistance, &c.RMSFractionalError, &seed,
		&createdAt, &updatedAt, &c.StarCount); err != nil {
		return nil, err
	}
	if seed.Valid {
		v := uint64(seed.Int64)
		c.Seed = &v
	}
	c.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	c.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updatedAt)
	return &c, nil
}

// DeleteCluster removes a cluster and, by cascade, its stars.
func (s *SQLiteCatalog) DeleteCluster(ctx context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, `DELETE FROM clusters WHERE name = ?`, name)
	if err != nil {
		return fmt.Errorf("failed to delete cluster %s: %w", name, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrClusterNotFound, name)
	}
	return nil
}

// Stars returns the row objects for a cluster.
func (s *SQLiteCatalog) Stars(ctx context.Context, cluster string) ([]Star, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, err := s.clusterID(ctx, cluster)
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, cluster_id, observation_id, distance FROM stars WHERE cluster_id = ? ORDER BY id`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to query stars: %w", err)
	}
	defer rows.Close()

	var stars []Star
	for rows.Next() {
		var st Star
		if err := rows.Scan(&st.ID, &st.ClusterID, &st.ObservationID, &st.Distance); err != nil {
			return nil, fmt.Errorf("failed to scan star: %w", err)
		}
		stars = append(stars, st)
	}
	return stars, rows.Err()
}

// Distances returns the distance column for a cluster.
func (s *SQLiteCatalog) Distances(ctx context.Context, cluster string) ([]float64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, err := s.clusterID(ctx, cluster)
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `SELECT distance FROM stars WHERE cluster_id = ? ORDER BY id`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to query distances: %w", err)
	}
	defer rows.Close()

	var distances []float64
	for rows.Next() {
		var d float64
		if err := rows.Scan(&d); err != nil {
			return nil, fmt.Errorf("failed to scan distance: %w", err)
		}
		distances = append(distances, d)
	}
	return distances, rows.Err()
}

// StarsWithCluster joins stars to clusters.
func (s *SQLiteCatalog) StarsWithCluster(ctx context.Context, cluster string) ([]StarRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `
		SELECT s.observation_id, s.distance, c.name, c.true_distance
		FROM stars s
		JOIN clusters c ON c.id = s.cluster_id`
	var args []any
	if cluster != "" {
		if _, err := s.clusterID(ctx, cluster); err != nil {
			return nil, err
		}
		query += ` WHERE c.name = ?`
		args = append(args, cluster)
	}
	query += ` ORDER BY c.name, s.id`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to join stars: %w", err)
	}
	defer rows.Close()

	var records []StarRecord
	for rows.Next() {
		var r StarRecord
		if err := rows.Scan(&r.ObservationID, &r.Distance, &r.Cluster, &r.TrueDistance); err != nil {
			return nil, fmt.Errorf("failed to scan star record: %w", err)
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

// AverageDistance computes AVG(distance) and COUNT(*) in SQLite.
func (s *SQLiteCatalog) AverageDistance(ctx context.Context, cluster string) (float64, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, err := s.clusterID(ctx, cluster)
	if err != nil {
		return 0, 0, err
	}

	var (
		avg   sql.NullFloat64
		count int
	)
	if err := s.db.QueryRowContext(ctx,
		`SELECT AVG(distance), COUNT(*) FROM stars WHERE cluster_id = ?`, id).Scan(&avg, &count); err != nil {
		return 0, 0, fmt.Errorf("failed to aggregate distances: %w", err)
	}
	return avg.Float64, count, nil
}

// Validate runs integrity checks on the database.
func (s *SQLiteCatalog) Validate(ctx context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return ValidateIntegrity(ctx, s.db)
}

// Reset drops every cluster and star and recreates an empty schema.
func (s *SQLiteCatalog) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return ResetSchema(ctx, s.db)
}

// Close closes the database.
func (s *SQLiteCatalog) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.Close()
}

func (s *SQLiteCatalog) clusterID(ctx context.Context, name string) (int64, error) {
	var id int64
	err := s.db.QueryRowContext(ctx, `SELECT id FROM clusters WHERE name = ?`, name).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("%w: %s", ErrClusterNotFound, name)
	}
	if err != nil {
		return 0, fmt.Errorf("failed to look up cluster %s: %w", name, err)
	}
	return id, nil
}
