package source

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"
)

// ErrDateParse indicates a filename without a parseable date suffix.
var ErrDateParse = errors.New("no date in filename")

// isoSuffix matches a trailing -YYYY-MM-DD, which a plain split on the last
// hyphen would cut in half.
var isoSuffix = regexp.MustCompile(`-(\d{4}-\d{2}-\d{2})$`)

// Record dates outside [minYear, maxYear] are rejected. An invalid YYYYMMDD
// token such as 20121345 otherwise reparses as DDMMYYYY in year 1345.
const (
	minYear = 1900
	maxYear = 2100
)

func plausibleYear(d time.Time) bool {
	return d.Year() >= minYear && d.Year() <= maxYear
}

// tokenLayouts are tried in order against the text after the final hyphen.
var tokenLayouts = []string{
	"20060102",
	"2006-01-02",
	"02012006",
	"2006_01_02",
}

// IsCSV reports whether name looks like an enrollment file.
func IsCSV(name string) bool {
	lower := strings.ToLower(name)
	return strings.HasSuffix(lower, ".csv") || strings.HasSuffix(lower, ".csv.gz")
}

// SelectFiles returns the names of the enrollment files directly inside dir,
// sorted lexicographically. Subdirectories are not descended into.
func SelectFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read data dir: %w", err)
	}

	var names []string
	for _, e := range entries {
		if !isRegular(dir, e) {
			continue
		}
		if IsCSV(e.Name()) {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}

// isRegular reports whether e is a regular file, following symlinks.
// Dangling links are not.
func isRegular(dir string, e os.DirEntry) bool {
	if e.Type()&os.ModeSymlink == 0 {
		return e.Type().IsRegular()
	}
	info, err := os.Stat(filepath.Join(dir, e.Name()))
	return err == nil && info.Mode().IsRegular()
}

// Stem strips the .csv or .csv.gz extension from name.
func Stem(name string) string {
	lower := strings.ToLower(name)
	if strings.HasSuffix(lower, ".gz") {
		name = name[:len(name)-len(".gz")]
		lower = lower[:len(lower)-len(".gz")]
	}
	if strings.HasSuffix(lower, ".csv") {
		name = name[:len(name)-len(".csv")]
	}
	return name
}

// ExtractDate returns the record date encoded at the end of a filename, as
// midnight UTC. Both "<prefix>-2012-03-15.csv" and "<prefix>-20120315.csv"
// are accepted.
func ExtractDate(name string) (time.Time, error) {
	stem := Stem(name)

	if m := isoSuffix.FindStringSubmatch(stem); m != nil {
		if d, err := time.Parse("2006-01-02", m[1]); err == nil && plausibleYear(d) {
			return d, nil
		}
	}

	idx := strings.LastIndex(stem, "-")
	if idx < 0 {
		return time.Time{}, fmt.Errorf("%w: %q has no '-' before the date", ErrDateParse, name)
	}
	token := strings.TrimSpace(stem[idx+1:])

	for _, layout := range tokenLayouts {
		if d, err := time.Parse(layout, token); err == nil && plausibleYear(d) {
			return d, nil
		}
	}
	return time.Time{}, fmt.Errorf("%w: %q in %q", ErrDateParse, token, name)
}
