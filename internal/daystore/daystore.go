// Package daystore keeps the gas meter day base on disk so a restart within
// the same local day does not reset the day consumption.
package daystore

import (
	"os"
	"path/filepath"
	"time"

	"github.com/goccy/go-yaml"
	"github.com/pkg/errors"
)

const dayLayout = "2006-01-02"

// DayBase is the meter value at the first reading of a local day.
type DayBase struct {
	Day  time.Time
	Base float64
}

type record struct {
	Day  string  `yaml:"day"`
	Base float64 `yaml:"base"`
}

// Store reads and writes one DayBase file.
type Store struct {
	path string
}

// New returns a store backed by path.
func New(path string) *Store {
	return &Store{path: path}
}

// Path returns the backing file.
func (s *Store) Path() string {
	return s.path
}

// Load returns the stored day base. A missing file is not an error and
// yields ok == false.
func (s *Store) Load() (DayBase, bool, error) {
	buf, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return DayBase{}, false, nil
	}
	if err != nil {
		return DayBase{}, false, errors.Wrap(err, "reading day base")
	}

	var r record
	if err := yaml.Unmarshal(buf, &r); err != nil {
		return DayBase{}, false, errors.Wrapf(err, "parsing %s", s.path)
	}
	day, err := time.Parse(dayLayout, r.Day)
	if err != nil {
		return DayBase{}, false, errors.Wrapf(err, "day in %s", s.path)
	}
	return DayBase{Day: day, Base: r.Base}, true, nil
}

// Save replaces the stored day base. Only the calendar date of b.Day is kept.
func (s *Store) Save(b DayBase) error {
	buf, err := yaml.Marshal(record{Day: b.Day.Format(dayLayout), Base: b.Base})
	if err != nil {
		return errors.Wrap(err, "encoding day base")
	}

	tmp, err := os.CreateTemp(filepath.Dir(s.path), filepath.Base(s.path)+".*")
	if err != nil {
		return errors.Wrap(err, "writing day base")
	}
	if _, err := tmp.Write(buf); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return errors.Wrap(err, "writing day base")
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return errors.Wrap(err, "writing day base")
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		os.Remove(tmp.Name())
		return errors.Wrap(err, "replacing day base")
	}
	return nil
}
