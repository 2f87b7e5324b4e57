package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/coffersTech/loghell/internal/model"
	"github.com/rs/zerolog"
)

var (
	// ErrNotFound is returned by Read and Delete for a key that was never written.
	ErrNotFound = errors.New("not found")
	// ErrUnknownType is returned by New for an unrecognised backend name.
	ErrUnknownType = errors.New("unknown storage type")
	// ErrCorrupted is returned when a persisted record fails its checksum.
	ErrCorrupted = errors.New("corrupted record")
)

// Storage is a key to bytes persistence backend.
type Storage interface {
	// Write persists data under key. Existing data for the key is replaced.
	Write(ctx context.Context, key model.Key, data []byte) error
	// Read returns a copy of the data stored under key, or ErrNotFound.
	Read(ctx context.Context, key model.Key) ([]byte, error)
	// Delete removes key. Only used to roll back a write that could not be indexed.
	Delete(ctx context.Context, key model.Key) error
	// List calls fn for every stored pair. Iteration stops at the first error fn returns.
	List(ctx context.Context, fn func(key model.Key, data []byte) error) error
	Close() error
}

// OpError records a failed backend operation on a key.
type OpError struct {
	Op  string
	Key model.Key
	Err error
}

func (e *OpError) Error() string {
	return fmt.Sprintf("storage %s %s: %v", e.Op, e.Key, e.Err)
}

func (e *OpError) Unwrap() error { return e.Err }

// Type names a storage backend.
type Type int

const (
	TypeUnknown Type = iota
	TypeInMemory
	TypeFile
	TypeS3
)

func (t Type) String() string {
	switch t {
	case TypeInMemory:
		return "in_memory"
	case TypeFile:
		return "file"
	case TypeS3:
		return "s3"
	default:
		return "unknown"
	}
}

// ParseType maps a configuration name to a Type. Unrecognised names give TypeUnknown.
func ParseType(name string) Type {
	switch name {
	case "in_memory":
		return TypeInMemory
	case "file":
		return TypeFile
	case "s3":
		return TypeS3
	default:
		return TypeUnknown
	}
}

// S3Options configures the s3 backend.
type S3Options struct {
	Bucket  string
	Prefix  string
	Region  string
	Timeout time.Duration
}

// Options selects and configures a backend.
type Options struct {
	Name   string
	Path   string
	S3     S3Options
	Logger zerolog.Logger
}

// New builds the backend named by opts.Name.
func New(ctx context.Context, opts Options) (Storage, error) {
	var (
		s   Storage
		err error
	)
	t := ParseType(opts.Name)
	switch t {
	case TypeInMemory:
		s = NewInMem()
	case TypeFile:
		s, err = OpenFile(opts.Path, opts.Logger)
	case TypeS3:
		s, err = NewS3(ctx, opts.S3)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, opts.Name)
	}
	if err != nil {
		return nil, fmt.Errorf("open %s storage: %w", t, err)
	}
	opts.Logger.Info().Str("storage_type", t.String()).Msg("using as a storage")
	return s, nil
}
