package backup

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/nvandessel/starcat/internal/store"
)

func createTestCatalog(t *testing.T) *store.SQLiteCatalog {
	t.Helper()
	c, err := store.NewSQLiteCatalog(t.TempDir())
	if err != nil {
		t.Fatalf("NewSQLiteCatalog() error = %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

func addTestData(t *testing.T, c store.Catalog) {
	t.Helper()
	ctx := context.Background()
	seed := uint64(5)
	clusters := []struct {
		spec      store.ClusterSpec
		distances []float64
	}{
		{store.ClusterSpec{Name: "hyades", TrueDistance: 0.047, RMSFractionalError: 0.1, Seed: &seed}, []float64{0.046, 0.048, 0.047}},
		{store.ClusterSpec{Name: "pleiades", TrueDistance: 0.136, RMSFractionalError: 0.2}, []float64{0.13, 0.14}},
	}
	for _, cl := range clusters {
		ids := make([]string, len(cl.distances))
		for i := range ids {
			ids[i] = string(rune('a' + i))
		}
		if _, err := c.SavePopulation(ctx, cl.spec, ids, cl.distances); err != nil {
			t.Fatalf("SavePopulation(%s) error = %v", cl.spec.Name, err)
		}
	}
}

func TestBackupRestore_RoundTrip(t *testing.T) {
	src := createTestCatalog(t)
	addTestData(t, src)
	ctx := context.Background()

	backupPath := filepath.Join(t.TempDir(), "snap.json.gz")
	header, err := Backup(ctx, src, backupPath)
	if err != nil {
		t.Fatalf("Backup() error = %v", err)
	}
	if header.ClusterCount != 2 || header.StarCount != 5 {
		t.Errorf("header counts = %d clusters, %d stars; want 2, 5", header.ClusterCount, header.StarCount)
	}

	dst := createTestCatalog(t)
	result, err := Restore(ctx, dst, backupPath, RestoreMerge)
	if err != nil {
		t.Fatalf("Restore() error = %v", err)
	}
	if result.ClustersRestored != 2 || result.StarsRestored != 5 {
		t.Errorf("Restore() = %+v, want 2 clusters and 5 stars", result)
	}

	hyades, err := dst.GetCluster(ctx, "hyades")
	if err != nil {
		t.Fatalf("GetCluster() error = %v", err)
	}
	if hyades.Seed == nil || *hyades.Seed != 5 {
		t.Errorf("restored seed = %v, want 5", hyades.Seed)
	}
	if hyades.TrueDistance != 0.047 || hyades.StarCount != 3 {
		t.Errorf("restored cluster = %+v", hyades)
	}

	stars, err := dst.Stars(ctx, "hyades")
	if err != nil {
		t.Fatalf("Stars() error = %v", err)
	}
	if stars[1].ObservationID != "b" || stars[1].Distance != 0.048 {
		t.Errorf("restored star = %+v, want b/0.048", stars[1])
	}

	pleiades, err := dst.GetCluster(ctx, "pleiades")
	if err != nil {
		t.Fatalf("GetCluster() error = %v", err)
	}
	if pleiades.Seed != nil {
		t.Errorf("restored unseeded cluster has seed %v", *pleiades.Seed)
	}
}

func TestRestore_MergeSkipsExisting(t *testing.T) {
	src := createTestCatalog(t)
	addTestData(t, src)
	ctx := context.Background()

	backupPath := filepath.Join(t.TempDir(), "snap.json.gz")
	if _, err := Backup(ctx, src, backupPath); err != nil {
		t.Fatalf("Backup() error = %v", err)
	}

	dst := createTestCatalog(t)
	if _, err := dst.SavePopulation(ctx, store.ClusterSpec{Name: "hyades", TrueDistance: 9}, []string{"x"}, []float64{9}); err != nil {
		t.Fatalf("SavePopulation() error = %v", err)
	}

	result, err := Restore(ctx, dst, backupPath, RestoreMerge)
	if err != nil {
		t.Fatalf("Restore() error = %v", err)
	}
	if result.ClustersRestored != 1 || result.ClustersSkipped != 1 {
		t.Errorf("Restore() = %+v, want 1 restored and 1 skipped", result)
	}

	hyades, _ := dst.GetCluster(ctx, "hyades")
	if hyades.TrueDistance != 9 {
		t.Errorf("merge overwrote existing cluster: %+v", hyades)
	}
}

func TestRestore_ReplaceClearsCatalog(t *testing.T) {
	src := createTestCatalog(t)
	addTestData(t, src)
	ctx := context.Background()

	backupPath := filepath.Join(t.TempDir(), "snap.json.gz")
	if _, err := Backup(ctx, src, backupPath); err != nil {
		t.Fatalf("Backup() error = %v", err)
	}

	dst := createTestCatalog(t)
	for _, name := range []string{"hyades", "praesepe"} {
		if _, err := dst.SavePopulation(ctx, store.ClusterSpec{Name: name, TrueDistance: 1}, []string{"x"}, []float64{1}); err != nil {
			t.Fatalf("SavePopulation() error = %v", err)
		}
	}

	result, err := Restore(ctx, dst, backupPath, RestoreReplace)
	if err != nil {
		t.Fatalf("Restore() error = %v", err)
	}
	if result.ClustersDeleted != 2 || result.ClustersRestored != 2 {
		t.Errorf("Restore() = %+v, want 2 deleted and 2 restored", result)
	}
	if _, err := dst.GetCluster(ctx, "praesepe"); !errors.Is(err, store.ErrClusterNotFound) {
		t.Errorf("GetCluster(praesepe) error = %v, want ErrClusterNotFound", err)
	}
	hyades, _ := dst.GetCluster(ctx, "hyades")
	if hyades.TrueDistance != 0.047 {
		t.Errorf("replace kept stale cluster: %+v", hyades)
	}
}

func TestRestore_ReplaceRejectsInvalidSnapshot(t *testing.T) {
	ctx := context.Background()
	dst := createTestCatalog(t)
	addTestData(t, dst)

	tests := []struct {
		name    string
		bad     ClusterSnapshot
		wantErr error
	}{
		{"zero distance", ClusterSnapshot{Name: "broken", TrueDistance: 0, ObservationIDs: []string{"a"}, Distances: []float64{1}}, store.ErrInvalidCluster},
		{"blank name", ClusterSnapshot{Name: " ", TrueDistance: 1, ObservationIDs: []string{"a"}, Distances: []float64{1}}, store.ErrInvalidCluster},
		{"length mismatch", ClusterSnapshot{Name: "broken", TrueDistance: 1, ObservationIDs: []string{"a"}, Distances: []float64{1, 2}}, store.ErrLengthMismatch},
		{"duplicate ids", ClusterSnapshot{Name: "broken", TrueDistance: 1, ObservationIDs: []string{"a", "a"}, Distances: []float64{1, 2}}, store.ErrInvalidCluster},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// The valid cluster comes first so a restore that deleted eagerly
			// would already have emptied the catalogue.
			snap := &Snapshot{
				Version: FormatVersion,
				Clusters: []ClusterSnapshot{
					{Name: "praesepe", TrueDistance: 0.18, ObservationIDs: []string{"a"}, Distances: []float64{0.18}},
					tt.bad,
				},
			}
			path := filepath.Join(t.TempDir(), "bad.json.gz")
			if _, err := Write(path, snap); err != nil {
				t.Fatalf("Write() error = %v", err)
			}

			_, err := Restore(ctx, dst, path, RestoreReplace)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("Restore() error = %v, want %v", err, tt.wantErr)
			}

			clusters, err := dst.ListClusters(ctx)
			if err != nil {
				t.Fatalf("ListClusters() error = %v", err)
			}
			if len(clusters) != 2 {
				t.Fatalf("catalogue has %d clusters after rejected restore, want 2", len(clusters))
			}
			if _, err := dst.GetCluster(ctx, "praesepe"); !errors.Is(err, store.ErrClusterNotFound) {
				t.Errorf("GetCluster(praesepe) error = %v, want ErrClusterNotFound", err)
			}
		})
	}
}

func TestBackup_PathValidation(t *testing.T) {
	src := createTestCatalog(t)
	addTestData(t, src)
	ctx := context.Background()
	allowedDir := t.TempDir()
	outsideDir := t.TempDir()

	tests := []struct {
		name    string
		path    string
		wantErr bool
	}{
		{"inside allowed dir", filepath.Join(allowedDir, "snap.json.gz"), false},
		{"outside allowed dir", filepath.Join(outsideDir, "snap.json.gz"), true},
		{"traversal", filepath.Join(allowedDir, "..", "escape.json.gz"), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Backup(ctx, src, tt.path, allowedDir)
			if (err != nil) != tt.wantErr {
				t.Errorf("Backup() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr && err != nil && !strings.Contains(err.Error(), "path rejected") {
				t.Errorf("Backup() error = %v, want 'path rejected' in message", err)
			}
		})
	}
}

func TestRestore_PathValidation(t *testing.T) {
	src := createTestCatalog(t)
	addTestData(t, src)
	ctx := context.Background()

	outside := filepath.Join(t.TempDir(), "snap.json.gz")
	if _, err := Backup(ctx, src, outside); err != nil {
		t.Fatalf("Backup() error = %v", err)
	}

	_, err := Restore(ctx, createTestCatalog(t), outside, RestoreMerge, t.TempDir())
	if err == nil || !strings.Contains(err.Error(), "path rejected") {
		t.Errorf("Restore() error = %v, want 'path rejected'", err)
	}
}

func TestBackup_FilePermissions(t *testing.T) {
	src := createTestCatalog(t)
	addTestData(t, src)

	backupDir := filepath.Join(t.TempDir(), "newdir", "backups")
	backupPath := filepath.Join(backupDir, "snap.json.gz")
	if _, err := Backup(context.Background(), src, backupPath); err != nil {
		t.Fatalf("Backup() error = %v", err)
	}

	dirInfo, err := os.Stat(backupDir)
	if err != nil {
		t.Fatalf("Stat(backupDir) error = %v", err)
	}
	if perm := dirInfo.Mode().Perm(); perm != 0700 {
		t.Errorf("backup dir permissions = %o, want 0700", perm)
	}
	fileInfo, err := os.Stat(backupPath)
	if err != nil {
		t.Fatalf("Stat(backupPath) error = %v", err)
	}
	if perm := fileInfo.Mode().Perm(); perm != 0600 {
		t.Errorf("backup file permissions = %o, want 0600", perm)
	}
}

func TestParseRestoreMode(t *testing.T) {
	tests := []struct {
		in      string
		want    RestoreMode
		wantErr bool
	}{
		{"", RestoreMerge, false},
		{"merge", RestoreMerge, false},
		{"replace", RestoreReplace, false},
		{"wipe", "", true},
	}
	for _, tt := range tests {
		got, err := ParseRestoreMode(tt.in)
		if (err != nil) != tt.wantErr || got != tt.want {
			t.Errorf("ParseRestoreMode(%q) = %q, %v; want %q, wantErr %v", tt.in, got, err, tt.want, tt.wantErr)
		}
	}
}

func TestGenerateBackupPath(t *testing.T) {
	dir := "/tmp/backups"
	path := GenerateBackupPath(dir)

	if filepath.Dir(path) != dir {
		t.Errorf("dir = %s, want %s", filepath.Dir(path), dir)
	}
	if !isBackupFile(filepath.Base(path)) {
		t.Errorf("GenerateBackupPath() = %s, not recognised as a backup file", path)
	}
}
