package audit

import (
	"bufio"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
)

// CSVStore appends entries to a per-device CSV file. Each Append flushes
// the writer and fsyncs the file before returning.
type CSVStore struct {
	mu   sync.Mutex
	path string
	file *os.File
	w    *csv.Writer
}

// OpenCSV creates the file at path and writes the header row.
func OpenCSV(path string) (*CSVStore, error) {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0600)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", path, err)
	}

	s := &CSVStore{path: path, file: f, w: csv.NewWriter(f)}

	info, err := f.Stat()
	if err != nil {
		f.Close() //nolint:errcheck // best effort cleanup on error path
		return nil, fmt.Errorf("stat %s: %w", path, err)
	}
	if info.Size() == 0 {
		if err := s.writeRecord(Columns); err != nil {
			f.Close() //nolint:errcheck // best effort cleanup on error path
			return nil, err
		}
	}
	return s, nil
}

// Append writes one row and syncs it to disk.
func (s *CSVStore) Append(ctx context.Context, e Entry) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.writeRecord(e.Row())
}

func (s *CSVStore) writeRecord(record []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.file == nil {
		return os.ErrClosed
	}
	if err := s.w.Write(record); err != nil {
		return fmt.Errorf("writing csv row: %w", err)
	}
	s.w.Flush()
	if err := s.w.Error(); err != nil {
		return fmt.Errorf("flushing csv: %w", err)
	}
	if err := s.file.Sync(); err != nil {
		return fmt.Errorf("syncing %s: %w", s.path, err)
	}
	return nil
}

// Entries reads the file back, skipping the header.
func (s *CSVStore) Entries(_ context.Context, filter Filter) ([]Entry, error) {
	filter = filter.normalise()

	f, err := os.Open(s.path)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", s.path, err)
	}
	defer f.Close()

	r := csv.NewReader(bufio.NewReader(f))
	r.FieldsPerRecord = len(Columns)

	var (
		entries []Entry
		skipped int
		first   = true
	)
	for {
		row, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", s.path, err)
		}
		if first {
			first = false
			if row[0] == Columns[0] {
				continue
			}
		}
		if skipped < filter.Offset {
			skipped++
			continue
		}
		e, err := entryFromRow(row)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
		if len(entries) == filter.Limit {
			break
		}
	}
	return entries, nil
}

// Path returns the file path.
func (s *CSVStore) Path() string {
	return s.path
}

// Close flushes and closes the file.
func (s *CSVStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.file == nil {
		return nil
	}
	s.w.Flush()
	err := errors.Join(s.w.Error(), s.file.Close())
	s.file = nil
	return err
}
