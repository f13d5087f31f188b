package services

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/RobertoIHH/MQ7ServerWifi/models"

	"go.uber.org/zap"
)

var (
	// ErrDayNotFound is returned by ReadDay when no file exists for the date.
	ErrDayNotFound = errors.New("no data for this date")
	// ErrInvalidDate is returned for dates not in YYYY-MM-DD form.
	ErrInvalidDate = errors.New("invalid date, use YYYY-MM-DD")
)

var dayFilePattern = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}\.json$`)

// LogStore is the durable, append-only measurement history partitioned by
// calendar day. The hub only depends on this interface so the storage layout
// can change without touching it.
type LogStore interface {
	// Append adds rec to the file of the day it was ingested on.
	Append(rec *models.Record) error
	// ReadDay returns the records of one day, repairing the file if needed.
	// An unrepairable file reads as an empty day.
	ReadDay(date string) ([]*models.Record, error)
	// ListDays returns the available dates, newest first.
	ListDays() ([]string, error)
	// Replay calls fn for every stored record, oldest day first.
	Replay(fn func(rec *models.Record)) error
}

// FileLogStore keeps one pretty-printed JSON array per day in a directory.
// Every append rewrites the whole file: read, repair, append, replace.
type FileLogStore struct {
	dir      string
	location *time.Location
	logger   *zap.Logger
	mu       sync.Mutex
}

// NewFileLogStore creates the data directory if needed. Days are cut in the
// given location; nil means time.Local.
func NewFileLogStore(dir string, location *time.Location, logger *zap.Logger) (*FileLogStore, error) {
	if location == nil {
		location = time.Local
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}
	return &FileLogStore{dir: dir, location: location, logger: logger}, nil
}

// Dir returns the data directory.
func (s *FileLogStore) Dir() string {
	return s.dir
}

// DayOf returns the file date a record belongs to.
func (s *FileLogStore) DayOf(rec *models.Record) string {
	at := rec.IngestedAt()
	if at.IsZero() {
		at = time.Now()
	}
	return at.In(s.location).Format(models.DayLayout)
}

func (s *FileLogStore) Append(rec *models.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	date := s.DayOf(rec)
	path := s.pathFor(date)

	records, err := s.load(path)
	switch {
	case err == nil:
	case errors.Is(err, os.ErrNotExist):
		records = []*models.Record{}
	case errors.Is(err, ErrUnrepairable):
		s.quarantine(path, err)
		records = []*models.Record{}
	default:
		return fmt.Errorf("failed to read %s: %w", path, err)
	}

	records = append(records, rec)
	if err := s.write(path, records); err != nil {
		return err
	}

	s.logger.Debug("Record saved",
		zap.String("file", path),
		zap.Int("total_records", len(records)))
	return nil
}

func (s *FileLogStore) ReadDay(date string) ([]*models.Record, error) {
	if _, err := time.Parse(models.DayLayout, date); err != nil {
		return nil, ErrInvalidDate
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	path := s.pathFor(date)
	records, err := s.load(path)
	switch {
	case err == nil:
		return records, nil
	case errors.Is(err, os.ErrNotExist):
		return nil, ErrDayNotFound
	default:
		s.logger.Error("Failed to read day file, treating as empty",
			zap.String("file", path),
			zap.Error(err))
		return []*models.Record{}, nil
	}
}

func (s *FileLogStore) ListDays() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to list data directory: %w", err)
	}

	var dates []string
	for _, entry := range entries {
		if entry.IsDir() || !dayFilePattern.MatchString(entry.Name()) {
			continue
		}
		dates = append(dates, strings.TrimSuffix(entry.Name(), ".json"))
	}
	sort.Sort(sort.Reverse(sort.StringSlice(dates)))
	return dates, nil
}

func (s *FileLogStore) Replay(fn func(rec *models.Record)) error {
	dates, err := s.ListDays()
	if err != nil {
		return err
	}
	for i := len(dates) - 1; i >= 0; i-- {
		records, err := s.ReadDay(dates[i])
		if err != nil {
			s.logger.Warn("Skipping day during replay",
				zap.String("date", dates[i]),
				zap.Error(err))
			continue
		}
		for _, rec := range records {
			fn(rec)
		}
	}
	return nil
}

func (s *FileLogStore) pathFor(date string) string {
	return filepath.Join(s.dir, date+".json")
}

// load reads and repairs a day file. A successful read always leaves the file
// in canonical form, so the first read after a corruption heals it.
func (s *FileLogStore) load(path string) ([]*models.Record, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	records, err := DecodeRecords(content)
	if err != nil {
		return nil, err
	}

	canonical, err := EncodeRecords(records)
	if err != nil {
		return nil, fmt.Errorf("failed to encode records: %w", err)
	}
	if !bytes.Equal(canonical, content) {
		if err := writeFileAtomic(path, canonical); err != nil {
			s.logger.Warn("Failed to rewrite repaired day file",
				zap.String("file", path),
				zap.Error(err))
		} else {
			s.logger.Info("Day file rewritten in canonical form",
				zap.String("file", path),
				zap.Int("records", len(records)))
		}
	}
	return records, nil
}

func (s *FileLogStore) write(path string, records []*models.Record) error {
	data, err := EncodeRecords(records)
	if err != nil {
		return fmt.Errorf("failed to encode records: %w", err)
	}
	if err := writeFileAtomic(path, data); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}

// quarantine moves an unreadable day file aside so the next append starts a
// fresh file without destroying the damaged bytes.
func (s *FileLogStore) quarantine(path string, cause error) {
	target := fmt.Sprintf("%s.corrupt-%d", path, time.Now().Unix())
	if err := os.Rename(path, target); err != nil {
		s.logger.Error("Failed to move unrepairable day file aside",
			zap.String("file", path),
			zap.Error(err))
		return
	}
	s.logger.Error("Unrepairable day file moved aside, starting a new one",
		zap.String("file", path),
		zap.String("moved_to", target),
		zap.NamedError("cause", cause))
}

func writeFileAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+"-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}
