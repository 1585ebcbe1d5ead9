// Package buildref defines the Build Reference value type: the (build date,
// build number) pair that identifies a published build in the artifact
// repository. Its ordering is the single source of truth for "newer than"
// decisions: both candidate selection and the ledger commit guard use it.
package buildref

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Ref identifies a remote build. Date is truncated to UTC midnight; Number is
// the per-day build counter reported by the repository.
type Ref struct {
	Date   time.Time
	Number int
}

// New returns a Ref with the date normalized to UTC midnight.
func New(date time.Time, number int) Ref {
	return Ref{Date: Day(date), Number: number}
}

// Day truncates a timestamp to UTC midnight.
func Day(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
}

// IsZero reports whether the reference carries no build at all.
func (r Ref) IsZero() bool {
	return r.Date.IsZero() && r.Number == 0
}

// NewerThan reports whether r is strictly newer than other: later date, or
// same date with a higher number. A zero other is older than any real ref.
func (r Ref) NewerThan(other Ref) bool {
	return Compare(r, other) > 0
}

// Compare returns -1, 0, or 1 ordering refs by date, then number.
func Compare(a, b Ref) int {
	if a.Date.Before(b.Date) {
		return -1
	}
	if a.Date.After(b.Date) {
		return 1
	}
	switch {
	case a.Number < b.Number:
		return -1
	case a.Number > b.Number:
		return 1
	}
	return 0
}

// Newest returns the newest ref in the slice, or false if it is empty.
func Newest(refs []Ref) (Ref, bool) {
	if len(refs) == 0 {
		return Ref{}, false
	}
	best := refs[0]
	for _, r := range refs[1:] {
		if r.NewerThan(best) {
			best = r
		}
	}
	return best, true
}

// String renders the ref as "YYYYMMDD.N", e.g. "20250102.1".
func (r Ref) String() string {
	if r.IsZero() {
		return "none"
	}
	return fmt.Sprintf("%s.%d", r.Date.Format("20060102"), r.Number)
}

// artifactNameRe matches build artifact file names of the form
// "<anything>_YYYYMMDD_N.<tar.gz|tgz|zip>".
var artifactNameRe = regexp.MustCompile(`_(\d{8})_(\d+)\.(?:tar\.gz|tgz|zip)$`)

// ParseArtifactName extracts a Ref from an artifact file name. Returns false
// when the name does not embed a build date and number.
func ParseArtifactName(name string) (Ref, bool) {
	m := artifactNameRe.FindStringSubmatch(strings.TrimSpace(name))
	if m == nil {
		return Ref{}, false
	}
	date, err := time.Parse("20060102", m[1])
	if err != nil {
		return Ref{}, false
	}
	number, err := strconv.Atoi(m[2])
	if err != nil {
		return Ref{}, false
	}
	return Ref{Date: date, Number: number}, true
}
