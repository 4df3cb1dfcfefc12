package buffer

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"slices"
	"strings"
	"sync"
)

// ErrColumns is returned when a row's field set differs from the store's columns.
var ErrColumns = errors.New("row does not match columns")

// Row is one record of a tabular store, keyed by column name.
type Row map[string]string

// CSVStore is a tabular buffer with a fixed header, persisted as CSV.
type CSVStore struct {
	path    string
	columns []string
	mu      sync.Mutex
	rows    []Row
	closed  bool
}

func OpenCSV(path string, columns []string) (*CSVStore, error) {
	s := &CSVStore{
		path:    path,
		columns: slices.Clone(columns),
		rows:    []Row{},
	}

	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		if err := ensureFile(path); err != nil {
			return nil, err
		}
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("opening buffer %s: %w", path, err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	header, err := r.Read()
	if errors.Is(err, io.EOF) {
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading header of %s: %w", path, err)
	}
	if !slices.Equal(header, s.columns) {
		return nil, fmt.Errorf("buffer %s has header %v, want %v", path, header, s.columns)
	}

	for {
		record, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", path, err)
		}
		row := make(Row, len(header))
		for i, col := range header {
			row[col] = record[i]
		}
		s.rows = append(s.rows, row)
	}

	return s, nil
}

func (s *CSVStore) Path() string {
	return s.path
}

func (s *CSVStore) Columns() []string {
	return slices.Clone(s.columns)
}

func (s *CSVStore) Append(row Row) error {
	if err := s.checkColumns(row); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return fmt.Errorf("append to %s: %w", s.path, ErrClosed)
	}
	s.rows = append(s.rows, cloneRow(row))
	return nil
}

func (s *CSVStore) checkColumns(row Row) error {
	if len(row) != len(s.columns) {
		return fmt.Errorf("%w: got %s, want %s", ErrColumns, rowKeys(row), strings.Join(s.columns, ","))
	}
	for _, col := range s.columns {
		if _, ok := row[col]; !ok {
			return fmt.Errorf("%w: missing %q", ErrColumns, col)
		}
	}
	return nil
}

func (s *CSVStore) Snapshot() []Row {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Row, len(s.rows))
	for i, row := range s.rows {
		out[i] = cloneRow(row)
	}
	return out
}

// Remove deletes every row matching pred and reports how many were removed.
func (s *CSVStore) Remove(pred func(Row) bool) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return 0, fmt.Errorf("remove from %s: %w", s.path, ErrClosed)
	}

	kept := s.rows[:0]
	removed := 0
	for _, row := range s.rows {
		if pred(row) {
			removed++
			continue
		}
		kept = append(kept, row)
	}
	s.rows = kept
	return removed, nil
}

func (s *CSVStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.rows)
}

func (s *CSVStore) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Close writes the header and all rows, then marks the store closed.
// Closing twice is a no-op.
func (s *CSVStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}

	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(s.columns); err != nil {
		return fmt.Errorf("encoding header of %s: %w", s.path, err)
	}
	for _, row := range s.rows {
		record := make([]string, len(s.columns))
		for i, col := range s.columns {
			record[i] = row[col]
		}
		if err := w.Write(record); err != nil {
			return fmt.Errorf("encoding %s: %w", s.path, err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("encoding %s: %w", s.path, err)
	}

	if err := writeAtomic(s.path, buf.Bytes()); err != nil {
		return err
	}
	s.closed = true
	return nil
}

func cloneRow(row Row) Row {
	out := make(Row, len(row))
	for k, v := range row {
		out[k] = v
	}
	return out
}

func rowKeys(row Row) string {
	keys := make([]string, 0, len(row))
	for k := range row {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return strings.Join(keys, ",")
}
