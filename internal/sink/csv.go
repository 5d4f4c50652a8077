package sink

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"seismo/internal/constants"
	"seismo/pkg/errors"
	"seismo/pkg/metrics"
	"seismo/pkg/models"
)

// CSVSink appends rows to a single CSV file. The header is written only
// when the file is empty, and each append is fsynced before returning.
type CSVSink struct {
	mu   sync.Mutex
	path string
	file *os.File
}

func NewCSVSink(path string) (*CSVSink, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create sink directory: %w", err)
		}
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open csv sink %s: %w", path, err)
	}

	s := &CSVSink{path: path, file: f}
	if err := s.prepare(); err != nil {
		_ = f.Close()
		return nil, err
	}
	return s, nil
}

// prepare writes the header into an empty file, or cuts a torn last row left
// by a crash back to the previous newline. A torn row was never acknowledged,
// so the broker redelivers it.
func (s *CSVSink) prepare() error {
	info, err := s.file.Stat()
	if err != nil {
		return fmt.Errorf("failed to stat csv sink: %w", err)
	}

	size := info.Size()
	if size > 0 {
		end, err := s.lastLineEnd(size)
		if err != nil {
			return fmt.Errorf("failed to read csv sink tail: %w", err)
		}
		if end < size {
			if err := s.file.Truncate(end); err != nil {
				return fmt.Errorf("failed to repair csv sink tail: %w", err)
			}
			if err := s.file.Sync(); err != nil {
				return err
			}
		}
		size = end
	}

	if size == 0 {
		return s.write(models.RecordColumns)
	}
	return nil
}

// lastLineEnd returns the offset just past the last newline, or 0 if there is none.
func (s *CSVSink) lastLineEnd(size int64) (int64, error) {
	buf := make([]byte, 4096)
	for end := size; end > 0; {
		start := end - int64(len(buf))
		if start < 0 {
			start = 0
		}
		chunk := buf[:end-start]
		if _, err := s.file.ReadAt(chunk, start); err != nil && err != io.EOF {
			return 0, err
		}
		if i := bytes.LastIndexByte(chunk, '\n'); i >= 0 {
			return start + int64(i) + 1, nil
		}
		end = start
	}
	return 0, nil
}

// write appends one row. On failure the file is cut back to its previous
// size so a retried append never lands on a half-written line.
func (s *CSVSink) write(row []string) error {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(row); err != nil {
		return err
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return err
	}

	info, err := s.file.Stat()
	if err != nil {
		return err
	}

	if _, err := s.file.Write(buf.Bytes()); err != nil {
		return s.rollback(info.Size(), err)
	}
	if err := s.file.Sync(); err != nil {
		return s.rollback(info.Size(), err)
	}
	return nil
}

func (s *CSVSink) rollback(size int64, cause error) error {
	if err := s.file.Truncate(size); err != nil {
		return fmt.Errorf("%w (rollback failed: %v)", cause, err)
	}
	return cause
}

func (s *CSVSink) Append(ctx context.Context, rec models.PersistedRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	start := time.Now()
	err := s.write(rec.Row())
	if err != nil {
		metrics.ObserveSinkAppend(s.Name(), "error", time.Since(start))
		return errors.ErrSinkWrite.WithDetail("unid", rec.UNID).WithCause(err)
	}
	metrics.ObserveSinkAppend(s.Name(), "ok", time.Since(start))
	return nil
}

// ReadAll opens the file afresh so it sees rows written by other processes.
// A missing file is an empty sink. Rows that do not parse, such as a torn
// final line, are skipped.
func (s *CSVSink) ReadAll(ctx context.Context) ([]models.PersistedRecord, error) {
	start := time.Now()
	defer func() { metrics.ObserveSinkRead(s.Name(), time.Since(start)) }()

	f, err := os.Open(s.path)
	if os.IsNotExist(err) {
		return []models.PersistedRecord{}, nil
	}
	if err != nil {
		return nil, errors.ErrUnavailable.WithCause(err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	r.ReuseRecord = true

	records := make([]models.PersistedRecord, 0)
	header := true
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		row, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			if _, ok := err.(*csv.ParseError); ok {
				continue
			}
			return nil, errors.ErrUnavailable.WithCause(err)
		}
		if header {
			header = false
			if len(row) > 0 && row[0] == models.RecordColumns[0] {
				continue
			}
		}
		rec, err := models.ParseRow(row)
		if err != nil {
			continue
		}
		records = append(records, rec)
	}
	return records, nil
}

func (s *CSVSink) Ping(context.Context) error {
	_, err := os.Stat(s.path)
	return err
}

func (s *CSVSink) Name() string {
	return constants.SinkTypeCSV
}

func (s *CSVSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.file.Close()
}
