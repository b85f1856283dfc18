// Package blob stores uploaded chat attachments under server-derived names.
package blob

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/iliyamo/pairchat/internal/config"
)

// ErrInvalidName rejects names that could escape the storage root.
var ErrInvalidName = errors.New("invalid blob name")

// Store writes attachment bytes under a flat name.
type Store interface {
	Put(ctx context.Context, name string, data []byte) error
}

// New builds the store selected by cfg.Backend.
func New(cfg config.BlobConfig) (Store, error) {
	switch strings.ToLower(cfg.Backend) {
	case "", "disk":
		return NewDisk(cfg.Dir)
	case "s3":
		return NewS3(cfg)
	default:
		return nil, fmt.Errorf("unknown blob backend %q", cfg.Backend)
	}
}

func checkName(name string) error {
	if name == "" || name == "." || name == ".." || filepath.Base(name) != name || strings.ContainsAny(name, `/\`) {
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return nil
}
