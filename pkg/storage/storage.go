package storage

import (
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/cyclopcam/logs"
)

// Storage is an abstraction of a blob store. We use it as the sink for evaluation reports.
type Storage interface {
	// When finished, you must close the WriteCloser
	WriteFile(name string) (io.WriteCloser, error)

	// When finished, you must close File.Reader
	ReadFile(name string) (*File, error)

	DeleteFile(name string) error
}

// File is an element in blob storage.
type File struct {
	Reader     io.ReadCloser
	ModifiedAt time.Time
	Size       int64
}

// Config selects one of the storage backends.
// If neither is set, then reports are written relative to the current directory.
type Config struct {
	Filesystem *ConfigFS  `yaml:"filesystem" json:"filesystem"`
	GCS        *ConfigGCS `yaml:"gcs" json:"gcs"`
}

type ConfigFS struct {
	Root string `yaml:"root" json:"root"` // Path to the root of the filesystem
}

type ConfigGCS struct {
	Bucket string `yaml:"bucket" json:"bucket"` // Name of the GCS bucket
	Prefix string `yaml:"prefix" json:"prefix"` // Optional object name prefix, eg "herdcount/"
}

var ErrInvalidName = errors.New("Invalid file name")
var ErrNotFound = errors.New("File not found")

// Open the storage backend described by cfg
func Open(log logs.Log, cfg Config) (Storage, error) {
	if cfg.GCS != nil && cfg.Filesystem != nil {
		return nil, fmt.Errorf("Only one of 'filesystem' or 'gcs' may be configured for report storage")
	}
	if cfg.GCS != nil {
		return NewStorageGCS(log, cfg.GCS.Bucket, cfg.GCS.Prefix)
	}
	root := "."
	if cfg.Filesystem != nil && cfg.Filesystem.Root != "" {
		root = cfg.Filesystem.Root
	}
	return NewStorageFS(log, root)
}

func WriteFile(s Storage, name string, content io.Reader) error {
	f, err := s.WriteFile(name)
	if err != nil {
		return err
	}
	_, err = io.Copy(f, content)
	errClose := f.Close()
	if err != nil {
		return err
	}
	return errClose
}

func ReadFile(s Storage, name string) ([]byte, error) {
	f, err := s.ReadFile(name)
	if err != nil {
		return nil, err
	}
	defer f.Reader.Close()
	return io.ReadAll(f.Reader)
}
