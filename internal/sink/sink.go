// Package sink routes decoded records into per-type CSV files.
package sink

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
)

// The three derived time columns every output starts with.
var timeColumns = []string{"Packet Capture Time", "Send Time Offset", "Raw Time Offset"}

// Record is anything that can be written as one CSV row. The field
// slice must line up with the column slice, tick type first.
type Record interface {
	Tag() byte
	Columns() []string
	Fields() []string
}

type fileSink struct {
	file *os.File
	csv  *csv.Writer
	rows uint64
}

// Registry owns one lazily created CSV file per type tag, named
// output-<tag>.csv inside its directory. Files for tags that never
// occur are never created. Not safe for concurrent use, the decode
// pass is the only writer.
type Registry struct {
	dir     string
	writers map[byte]*fileSink
}

// NewRegistry returns a Registry writing into dir. The directory must
// already exist.
func NewRegistry(dir string) *Registry {
	return &Registry{
		dir:     dir,
		writers: make(map[byte]*fileSink),
	}
}

// Write appends one row for rec, prefixed with the capture time and
// the two derived offsets. The first row for a tag creates its file
// and writes the header line.
func (r *Registry) Write(rec Record, captureNanos, sendOffset, rawOffset int64) error {
	tag := rec.Tag()
	s, ok := r.writers[tag]
	if !ok {
		var err error
		s, err = r.open(tag, rec.Columns())
		if err != nil {
			return err
		}
		r.writers[tag] = s
	}

	fields := rec.Fields()
	row := make([]string, 0, len(timeColumns)+len(fields))
	row = append(row,
		strconv.FormatInt(captureNanos, 10),
		strconv.FormatInt(sendOffset, 10),
		strconv.FormatInt(rawOffset, 10),
	)
	row = append(row, fields...)

	if err := s.csv.Write(row); err != nil {
		return fmt.Errorf("write row for type %c: %w", tag, err)
	}
	s.rows++
	return nil
}

func (r *Registry) open(tag byte, columns []string) (*fileSink, error) {
	path := filepath.Join(r.dir, fmt.Sprintf("output-%c.csv", tag))
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create output for type %c: %w", tag, err)
	}

	w := csv.NewWriter(f)
	header := make([]string, 0, len(timeColumns)+len(columns))
	header = append(header, timeColumns...)
	header = append(header, columns...)
	if err := w.Write(header); err != nil {
		f.Close()
		return nil, fmt.Errorf("write header for type %c: %w", tag, err)
	}
	return &fileSink{file: f, csv: w}, nil
}

// Rows returns how many data rows were written per tag.
func (r *Registry) Rows() map[byte]uint64 {
	counts := make(map[byte]uint64, len(r.writers))
	for tag, s := range r.writers {
		counts[tag] = s.rows
	}
	return counts
}

// Close flushes and closes every open file. The first error wins but
// every file is still closed.
func (r *Registry) Close() error {
	tags := make([]byte, 0, len(r.writers))
	for tag := range r.writers {
		tags = append(tags, tag)
	}
	sort.Slice(tags, func(i, j int) bool { return tags[i] < tags[j] })

	var firstErr error
	for _, tag := range tags {
		s := r.writers[tag]
		s.csv.Flush()
		if err := s.csv.Error(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("flush output for type %c: %w", tag, err)
		}
		if err := s.file.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("close output for type %c: %w", tag, err)
		}
	}
	return firstErr
}
