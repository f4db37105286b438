// Package backup snapshots and restores the starcat catalogue.
package backup

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/nvandessel/starcat/internal/pathutil"
	"github.com/nvandessel/starcat/internal/store"
)

// Snapshot is the decompressed payload of a backup file.
type Snapshot struct {
	Version   int               `json:"version"`
	CreatedAt time.Time         `json:"created_at"`
	Clusters  []ClusterSnapshot `json:"clusters"`
}

// ClusterSnapshot is one cluster and its full sample.
type ClusterSnapshot struct {
	Name               string    `json:"name"`
	TrueDistance       float64   `json:"true_distance"`
	RMSFractionalError float64   `json:"rms_fractional_error"`
	Seed               *uint64   `json:"seed,omitempty"`
	ObservationIDs     []string  `json:"observation_ids"`
	Distances          []float64 `json:"distances"`
}

func (c ClusterSnapshot) spec() store.ClusterSpec {
	return store.ClusterSpec{
		Name:               c.Name,
		TrueDistance:       c.TrueDistance,
		RMSFractionalError: c.RMSFractionalError,
		Seed:               c.Seed,
	}
}

// Validate checks every cluster in the snapshot so that a restore can be
// refused before the catalogue is touched.
func (s *Snapshot) Validate() error {
	for _, c := range s.Clusters {
		if err := store.ValidatePopulation(c.spec(), c.ObservationIDs, c.Distances); err != nil {
			return fmt.Errorf("backup cluster %q: %w", c.Name, err)
		}
	}
	return nil
}

// StarCount returns the total number of observations in the snapshot.
func (s *Snapshot) StarCount() int {
	n := 0
	for _, c := range s.Clusters {
		n += len(c.Distances)
	}
	return n
}

// DefaultBackupDir returns the default backup directory (~/.starcat/backups/).
func DefaultBackupDir() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(homeDir, ".starcat", "backups"), nil
}

// Backup writes every cluster in catalog to outputPath. When allowedDirs is
// non-empty, outputPath must resolve inside one of them.
func Backup(ctx context.Context, catalog store.Catalog, outputPath string, allowedDirs ...string) (*Header, error) {
	if len(allowedDirs) > 0 {
		if err := pathutil.ValidatePath(outputPath, allowedDirs); err != nil {
			return nil, fmt.Errorf("backup path rejected: %w", err)
		}
	}

	clusters, err := catalog.ListClusters(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list clusters: %w", err)
	}

	snap := &Snapshot{
		Version:   FormatVersion,
		CreatedAt: time.Now().UTC(),
		Clusters:  make([]ClusterSnapshot, 0, len(clusters)),
	}
	for _, c := range clusters {
		stars, err := catalog.Stars(ctx, c.Name)
		if err != nil {
			return nil, fmt.Errorf("failed to read stars for %s: %w", c.Name, err)
		}
		cs := ClusterSnapshot{
			Name:               c.Name,
			TrueDistance:       c.TrueDistance,
			RMSFractionalError: c.RMSFractionalError,
			Seed:               c.Seed,
			ObservationIDs:     make([]string, len(stars)),
			Distances:          make([]float64, len(stars)),
		}
		for i, st := range stars {
			cs.ObservationIDs[i] = st.ObservationID
			cs.Distances[i] = st.Distance
		}
		snap.Clusters = append(snap.Clusters, cs)
	}

	return Write(outputPath, snap)
}

// RestoreMode controls how restore handles existing data.
type RestoreMode string

const (
	// RestoreMerge skips clusters that already exist (default).
	RestoreMerge RestoreMode = "merge"
	// RestoreReplace deletes every stored cluster before restoring.
	RestoreReplace RestoreMode = "replace"
)

// ParseRestoreMode maps a flag value to a RestoreMode.
func ParseRestoreMode(s string) (RestoreMode, error) {
	switch RestoreMode(s) {
	case "", RestoreMerge:
		return RestoreMerge, nil
	case RestoreReplace:
		return RestoreReplace, nil
	default:
		return "", fmt.Errorf("invalid restore mode %q (valid: merge, replace)", s)
	}
}

// RestoreResult contains statistics about the restore operation.
type RestoreResult struct {
	ClustersRestored int `json:"clusters_restored"`
	ClustersSkipped  int `json:"clusters_skipped"`
	ClustersDeleted  int `json:"clusters_deleted"`
	StarsRestored    int `json:"stars_restored"`
}

// Restore loads a backup file into catalog. When allowedDirs is non-empty,
// inputPath must resolve inside one of them.
func Restore(ctx context.Context, catalog store.Catalog, inputPath string, mode RestoreMode, allowedDirs ...string) (*RestoreResult, error) {
	if len(allowedDirs) > 0 {
		if err := pathutil.ValidatePath(inputPath, allowedDirs); err != nil {
			return nil, fmt.Errorf("restore path rejected: %w", err)
		}
	}

	snap, err := Read(inputPath)
	if err != nil {
		return nil, err
	}

	if err := snap.Validate(); err != nil {
		return nil, err
	}

	result := &RestoreResult{}

	if mode == RestoreReplace {
		existing, err := catalog.ListClusters(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list clusters: %w", err)
		}
		for _, c := range existing {
			if err := catalog.DeleteCluster(ctx, c.Name); err != nil {
				return nil, fmt.Errorf("failed to delete cluster %s: %w", c.Name, err)
			}
			result.ClustersDeleted++
		}
	}

	for _, cs := range snap.Clusters {
		if mode == RestoreMerge {
			_, err := catalog.GetCluster(ctx, cs.Name)
			if err == nil {
				result.ClustersSkipped++
				continue
			}
			if !errors.Is(err, store.ErrClusterNotFound) {
				return nil, fmt.Errorf("failed to check existing cluster %s: %w", cs.Name, err)
			}
		}

		if _, err := catalog.SavePopulation(ctx, cs.spec(), cs.ObservationIDs, cs.Distances); err != nil {
			return nil, fmt.Errorf("failed to restore cluster %s: %w", cs.Name, err)
		}
		result.ClustersRestored++
		result.StarsRestored += len(cs.Distances)
	}

	return result, nil
}

// GenerateBackupPath creates a timestamped backup filename in the given directory.
func GenerateBackupPath(dir string) string {
	ts := time.Now().Format("20060102-150405")
	return filepath.Join(dir, fmt.Sprintf("starcat-backup-%s.json.gz", ts))
}
