package observers

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"
)

const timelineExt = ".jsonl"

// PurgeTimelines deletes session timelines in dir last written before
// now-maxAge and returns the session ids it removed. A missing dir is not an
// error.
func PurgeTimelines(dir string, maxAge time.Duration, now time.Time) ([]string, error) {
	if dir == "" || maxAge <= 0 {
		return nil, nil
	}
	entries, err := os.ReadDir(dir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	cutoff := now.Add(-maxAge)
	var (
		removed []string
		errs    error
	)
	for _, entry := range entries {
		name := entry.Name()
		if !entry.Type().IsRegular() || filepath.Ext(name) != timelineExt {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			errs = errors.Join(errs, err)
			continue
		}
		if !info.ModTime().Before(cutoff) {
			continue
		}
		if err := os.Remove(filepath.Join(dir, name)); err != nil {
			errs = errors.Join(errs, err)
			continue
		}
		removed = append(removed, strings.TrimSuffix(name, timelineExt))
	}
	slices.Sort(removed)
	return removed, errs
}
