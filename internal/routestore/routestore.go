// Package routestore inspects and resets the I2P daemon's persisted peer
// record cache (the netDb directory). The record count is the supervisor's
// proxy for "this router already knows the network": a warm store means a
// gentle bootstrap, a cold one means aggressive reseeding.
package routestore

import (
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// recordPrefix marks persisted peer records inside the store
// (netDb/rX/routerInfo-<hash>.dat).
const recordPrefix = "routerInfo-"

// DefaultFreshMinimum is the record count below which the store is treated
// as too cold for a gentle bootstrap.
const DefaultFreshMinimum = 25

// Store is the filesystem-backed peer record cache. The daemon owns its
// contents; the supervisor only reads the count, except for the destructive
// clear during forced re-bootstrap.
type Store struct {
	Dir string
}

func New(dir string) *Store { return &Store{Dir: dir} }

// Count walks the store and counts persisted peer records. A missing
// directory counts as zero records, not an error: a first boot has no store
// yet.
func (s *Store) Count() (int, error) {
	n := 0
	err := filepath.WalkDir(s.Dir, func(_ string, d fs.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if !d.IsDir() && strings.HasPrefix(d.Name(), recordPrefix) {
			n++
		}
		return nil
	})
	if err != nil && os.IsNotExist(err) {
		return 0, nil
	}
	return n, err
}

// Fresh reports whether the store holds at least min peer records.
func (s *Store) Fresh(min int) (bool, error) {
	n, err := s.Count()
	if err != nil {
		return false, err
	}
	return n >= min, nil
}

// Clear destroys the store and recreates its directory shape. A forced
// re-bootstrap must not mix stale and fresh peer data, so partial deletion
// is not an option. The caller must guarantee the daemon is fully
// terminated first.
func (s *Store) Clear() error {
	if err := os.RemoveAll(s.Dir); err != nil {
		return err
	}
	return os.MkdirAll(s.Dir, 0o750)
}
