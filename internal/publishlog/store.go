// Package publishlog persists the append-only PublishRecord log and provides
// per-PR mutual exclusion for concurrent runs.
package publishlog

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/quickreview/pkg/models"
)

// ErrClosed is returned after Close
var ErrClosed = errors.New("publish log closed")

// Key identifies the records of one PR/MR
type Key struct {
	Platform models.Platform
	PRID     string
}

func (k Key) String() string {
	return string(k.Platform) + "|" + k.PRID
}

// KeyOf returns the key of a target ref
func KeyOf(ref models.TargetRef) Key {
	return Key{Platform: ref.Platform, PRID: ref.PRID()}
}

// Filter narrows List
type Filter struct {
	Platform models.Platform
	PRID     string
	Limit    int
}

// Store is the publish log. Records are only ever appended; the newest record
// for a (key, content hash) pair supersedes older ones.
type Store interface {
	// Lock blocks until the caller holds the exclusive lock for key or ctx is done.
	Lock(ctx context.Context, key Key) (unlock func(), err error)
	// Latest returns the newest record for key and hash, or nil.
	Latest(ctx context.Context, key Key, contentHash string) (*models.PublishRecord, error)
	// LatestComplete returns the newest complete record for key at revision, or nil.
	LatestComplete(ctx context.Context, key Key, revision string) (*models.PublishRecord, error)
	// Append adds rec and fills its ID and CreatedAt.
	Append(ctx context.Context, rec *models.PublishRecord) error
	// List returns records newest first.
	List(ctx context.Context, filter Filter) ([]models.PublishRecord, error)
	Close() error
}

// Driver names a store backend
type Driver string

const (
	DriverMemory   Driver = "memory"
	DriverSQLite   Driver = "sqlite"
	DriverPostgres Driver = "postgres"
)

// Open connects to the configured backend and applies migrations
func Open(ctx context.Context, driver, dsn string) (Store, error) {
	switch Driver(strings.ToLower(driver)) {
	case DriverMemory, "":
		return NewMemoryStore(), nil
	case DriverSQLite:
		return OpenSQLite(dsn)
	case DriverPostgres:
		return OpenPostgres(ctx, dsn)
	default:
		return nil, fmt.Errorf("unknown store driver %q", driver)
	}
}

func validate(rec *models.PublishRecord) error {
	switch {
	case rec == nil:
		return errors.New("nil record")
	case rec.Platform == "" || rec.PRID == "":
		return errors.New("record without platform or pr id")
	case rec.ContentHash == "":
		return errors.New("record without content hash")
	case rec.Status != models.PublishComplete && rec.Status != models.PublishPartial:
		return fmt.Errorf("invalid record status %q", rec.Status)
	}
	return nil
}
