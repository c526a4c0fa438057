// Package datalog records per-cycle flight values for post-flight analysis.
//
// Fields are registered once, a header is written, then every row carries
// one value per field in registration order.
package datalog

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrNotOpen is returned by writes to a logger that was never opened or has
// been closed. Callers in the control loop treat it as non-fatal.
var ErrNotOpen = errors.New("datalog: file not open")

type Logger interface {
	AddField(name string) error
	WriteHeader() error
	WriteRow(ms uint32, values ...any) error
	Close() error
}

// Open creates a logger of the given format ("csv" or "sqlite") in dir.
func Open(format, dir string) (Logger, error) {
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "", "csv":
		f, err := CreateCSV(dir)
		if err != nil {
			return nil, err
		}
		return f, nil
	case "sqlite":
		db, err := CreateSQLite(dir)
		if err != nil {
			return nil, err
		}
		return db, nil
	default:
		return nil, fmt.Errorf("datalog: unknown format %q", format)
	}
}

// FormatValue renders v the way data files have always shown it: booleans
// as True/False and floats with two decimals.
func FormatValue(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case bool:
		if x {
			return "True"
		}
		return "False"
	case float32:
		return strconv.FormatFloat(float64(x), 'f', 2, 32)
	case float64:
		return strconv.FormatFloat(x, 'f', 2, 64)
	case int:
		return strconv.Itoa(x)
	case int32:
		return strconv.FormatInt(int64(x), 10)
	case int64:
		return strconv.FormatInt(x, 10)
	case uint32:
		return strconv.FormatUint(uint64(x), 10)
	case uint64:
		return strconv.FormatUint(x, 10)
	case string:
		return x
	case fmt.Stringer:
		return x.String()
	default:
		return fmt.Sprint(v)
	}
}

type fieldSet struct {
	names  []string
	frozen bool
}

func (f *fieldSet) add(name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return errors.New("datalog: field name is empty")
	}
	if f.frozen {
		return fmt.Errorf("datalog: field %q added after header", name)
	}
	for _, n := range f.names {
		if n == name {
			return fmt.Errorf("datalog: duplicate field %q", name)
		}
	}
	f.names = append(f.names, name)
	return nil
}

func (f *fieldSet) checkRow(values []any) error {
	if len(values) != len(f.names) {
		return fmt.Errorf("datalog: row has %d values, want %d", len(values), len(f.names))
	}
	return nil
}
