package storage

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"dinner-roulette/internal/dish"
)

const snapshotPrefix = "catalog_"

// ErrNoSnapshot is returned by Latest when the store is empty.
var ErrNoSnapshot = errors.New("no catalog snapshot found")

// CatalogStore keeps versioned JSON snapshots of the dish catalog on disk.
type CatalogStore struct {
	basePath string
}

// NewCatalogStore creates a new CatalogStore and ensures the base directory exists.
func NewCatalogStore(basePath string) (*CatalogStore, error) {
	if err := os.MkdirAll(basePath, 0755); err != nil {
		return nil, fmt.Errorf("failed to create storage directory %s: %w", basePath, err)
	}
	return &CatalogStore{basePath: basePath}, nil
}

// VersionAt formats t as a snapshot version. Versions sort chronologically.
func VersionAt(t time.Time) string {
	return t.UTC().Format("20060102T150405Z")
}

// sanitizeVersion makes the version safe for filenames.
func sanitizeVersion(v string) string {
	return strings.NewReplacer(":", "-", "/", "-", string(filepath.Separator), "-").Replace(v)
}

func (s *CatalogStore) path(version string) string {
	return filepath.Join(s.basePath, snapshotPrefix+sanitizeVersion(version)+".json")
}

// Save stores the catalog under version, replacing an existing snapshot of the same version.
func (s *CatalogStore) Save(version string, dishes []dish.Dish) error {
	if dishes == nil {
		dishes = []dish.Dish{}
	}
	data, err := json.MarshalIndent(dishes, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal catalog: %w", err)
	}

	if err := os.WriteFile(s.path(version), data, 0644); err != nil {
		return fmt.Errorf("failed to write catalog snapshot: %w", err)
	}
	return nil
}

// Load reads the snapshot stored under version.
func (s *CatalogStore) Load(version string) ([]dish.Dish, error) {
	data, err := os.ReadFile(s.path(version))
	if err != nil {
		return nil, fmt.Errorf("failed to read catalog snapshot: %w", err)
	}

	var dishes []dish.Dish
	if err := json.Unmarshal(data, &dishes); err != nil {
		return nil, fmt.Errorf("failed to unmarshal catalog snapshot: %w", err)
	}
	return dishes, nil
}

// Exists checks if a snapshot of version exists.
func (s *CatalogStore) Exists(version string) bool {
	_, err := os.Stat(s.path(version))
	return !os.IsNotExist(err)
}

// Versions lists stored versions, oldest first.
func (s *CatalogStore) Versions() ([]string, error) {
	matches, err := filepath.Glob(filepath.Join(s.basePath, snapshotPrefix+"*.json"))
	if err != nil {
		return nil, fmt.Errorf("failed to glob snapshots: %w", err)
	}

	versions := make([]string, 0, len(matches))
	for _, m := range matches {
		name := strings.TrimSuffix(filepath.Base(m), ".json")
		versions = append(versions, strings.TrimPrefix(name, snapshotPrefix))
	}
	slices.Sort(versions)
	return versions, nil
}

// Latest returns the newest version.
func (s *CatalogStore) Latest() (string, error) {
	versions, err := s.Versions()
	if err != nil {
		return "", err
	}
	if len(versions) == 0 {
		return "", ErrNoSnapshot
	}
	return versions[len(versions)-1], nil
}

// RemoveStaleVersions deletes every snapshot except the newest keep.
func (s *CatalogStore) RemoveStaleVersions(keep int) (int, error) {
	versions, err := s.Versions()
	if err != nil {
		return 0, err
	}
	if keep < 0 {
		keep = 0
	}
	if len(versions) <= keep {
		return 0, nil
	}

	stale := versions[:len(versions)-keep]
	for _, v := range stale {
		if err := os.Remove(s.path(v)); err != nil {
			return 0, fmt.Errorf("failed to remove stale snapshot %s: %w", v, err)
		}
	}
	return len(stale), nil
}

// LoadSeedFile reads a JSON array of dishes and validates each one.
func LoadSeedFile(path string) ([]dish.Dish, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read seed file: %w", err)
	}

	var dishes []dish.Dish
	if err := json.Unmarshal(data, &dishes); err != nil {
		return nil, fmt.Errorf("failed to unmarshal seed file: %w", err)
	}

	seen := make(map[string]bool, len(dishes))
	for i, d := range dishes {
		if err := d.Validate(); err != nil {
			return nil, fmt.Errorf("seed entry %d: %w", i, err)
		}
		if seen[d.ID] {
			return nil, fmt.Errorf("seed entry %d: duplicate dish id %s", i, d.ID)
		}
		seen[d.ID] = true
		if dishes[i].Tags == nil {
			dishes[i].Tags = []string{}
		}
		if dishes[i].Allergens == nil {
			dishes[i].Allergens = []string{}
		}
	}
	return dishes, nil
}
