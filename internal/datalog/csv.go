package datalog

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"sync"

	"github.com/dustin/go-humanize"
)

const maxFileIndex = 999

// NextFileName returns the first DATAnnn.CSV in dir that does not exist yet.
func NextFileName(dir string) (string, error) {
	return nextName(dir, "CSV")
}

func nextName(dir, ext string) (string, error) {
	for i := 0; i <= maxFileIndex; i++ {
		name := fmt.Sprintf("DATA%03d.%s", i, ext)
		_, err := os.Stat(filepath.Join(dir, name))
		if errors.Is(err, fs.ErrNotExist) {
			return name, nil
		}
		if err != nil {
			return "", fmt.Errorf("datalog: stat %s: %w", name, err)
		}
	}
	return "", fmt.Errorf("datalog: no free DATAnnn.%s name in %s", ext, dir)
}

// CSVFile writes one "Time,<name>" column pair per field. Each row repeats the
// row time before every value, so columns can be plotted pairwise.
type CSVFile struct {
	path string

	mu     sync.Mutex
	fields fieldSet
	f      *os.File
	w      *csv.Writer
	rows   int
}

// CreateCSV creates the next free data file in dir.
func CreateCSV(dir string) (*CSVFile, error) {
	if dir == "" {
		dir = "."
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("datalog: mkdir %s: %w", dir, err)
	}
	name, err := NextFileName(dir)
	if err != nil {
		return nil, err
	}
	path := filepath.Join(dir, name)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("datalog: create %s: %w", path, err)
	}
	w := csv.NewWriter(f)
	w.UseCRLF = true
	log.Printf("datalog: writing %s", path)
	return &CSVFile{path: path, f: f, w: w}, nil
}

func (c *CSVFile) Path() string { return c.path }

func (c *CSVFile) AddField(name string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.fields.add(name)
}

func (c *CSVFile) WriteHeader() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.w == nil {
		return ErrNotOpen
	}
	c.fields.frozen = true
	rec := make([]string, 0, 2*len(c.fields.names))
	for _, n := range c.fields.names {
		rec = append(rec, "Time", n)
	}
	return c.writeLocked(rec)
}

func (c *CSVFile) WriteRow(ms uint32, values ...any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.w == nil {
		return ErrNotOpen
	}
	if err := c.fields.checkRow(values); err != nil {
		return err
	}
	t := strconv.FormatUint(uint64(ms), 10)
	rec := make([]string, 0, 2*len(values))
	for _, v := range values {
		rec = append(rec, t, FormatValue(v))
	}
	if err := c.writeLocked(rec); err != nil {
		return err
	}
	c.rows++
	return nil
}

// writeLocked flushes every record so a power cut loses at most one row.
func (c *CSVFile) writeLocked(rec []string) error {
	if err := c.w.Write(rec); err != nil {
		return fmt.Errorf("datalog: write: %w", err)
	}
	c.w.Flush()
	if err := c.w.Error(); err != nil {
		return fmt.Errorf("datalog: flush: %w", err)
	}
	return nil
}

func (c *CSVFile) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.f == nil {
		return nil
	}
	c.w.Flush()
	werr := c.w.Error()
	var size int64
	if st, err := c.f.Stat(); err == nil {
		size = st.Size()
	}
	cerr := c.f.Close()
	c.f, c.w = nil, nil
	log.Printf("datalog: closed %s (%d rows, %s)", c.path, c.rows, humanize.Bytes(uint64(size)))
	return errors.Join(werr, cerr)
}
