package audit

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

// Store is one device's append-only log for one session.
type Store interface {
	// Append durably writes e before returning.
	Append(ctx context.Context, e Entry) error
	Path() string
	Close() error
}

// Reader is implemented by stores that can read their entries back.
type Reader interface {
	Entries(ctx context.Context, filter Filter) ([]Entry, error)
}

// Filter pages through a store's entries, oldest first.
type Filter struct {
	Limit  int // default 50, max 500
	Offset int
}

func (f Filter) normalise() Filter {
	if f.Limit <= 0 {
		f.Limit = 50
	}
	if f.Limit > 500 { //nolint:mnd // max page size
		f.Limit = 500
	}
	if f.Offset < 0 {
		f.Offset = 0
	}
	return f
}

// Format selects the backing store implementation.
type Format string

// Supported formats.
const (
	FormatSQLite Format = "sqlite"
	FormatCSV    Format = "csv"
)

// Extension returns the file extension for the format.
func (f Format) Extension() (string, error) {
	switch f {
	case FormatSQLite, "":
		return ".db", nil
	case FormatCSV:
		return ".csv", nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownFormat, f)
	}
}

// OpenFunc creates the store for a device at path.
type OpenFunc func(ctx context.Context, path string, session Session) (Store, error)

// opener returns the OpenFunc for the format.
func (f Format) opener() (OpenFunc, error) {
	switch f {
	case FormatSQLite, "":
		return func(ctx context.Context, path string, session Session) (Store, error) {
			return OpenSQLite(ctx, path, session)
		}, nil
	case FormatCSV:
		return func(_ context.Context, path string, _ Session) (Store, error) {
			return OpenCSV(path)
		}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownFormat, f)
	}
}

// storePath picks a file name in dir that no earlier session has used.
func storePath(dir string, session Session, deviceID, ext string) (string, error) {
	if err := os.MkdirAll(dir, 0750); err != nil {
		return "", fmt.Errorf("creating audit directory: %w", err)
	}

	for _, name := range []string{session.FileName(deviceID, ext), session.altFileName(deviceID, ext)} {
		path := filepath.Join(dir, name)
		_, err := os.Stat(path)
		if errors.Is(err, fs.ErrNotExist) {
			return path, nil
		}
		if err != nil {
			return "", fmt.Errorf("checking %s: %w", path, err)
		}
	}
	return "", fmt.Errorf("%w: log file for %s already exists", fs.ErrExist, deviceID)
}
