package session

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"github.com/vadiminshakov/gowal"

	"github.com/vadiminshakov/courtside/internal/domain"
)

const (
	positionKey         = "open_position"
	walSegmentThreshold = 1000
	walMaxSegments      = 100
	walDirPermissions   = 0o755
)

// journal is the session-local append-only log of the open position. It is
// consulted before the external store on restart, so a crash between a fill
// and a store write loses nothing.
type journal struct {
	wal *gowal.Wal
}

func openJournal(baseDir, user, event string) (*journal, error) {
	dir := filepath.Join(baseDir, user, event)
	if err := os.MkdirAll(dir, walDirPermissions); err != nil {
		return nil, errors.Wrapf(err, "failed to ensure WAL directory %s", dir)
	}

	wal, err := gowal.NewWAL(gowal.Config{
		Dir:              dir,
		Prefix:           "log_",
		SegmentThreshold: walSegmentThreshold,
		MaxSegments:      walMaxSegments,
		IsInSyncDiskMode: true,
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to create WAL")
	}
	return &journal{wal: wal}, nil
}

// SavePosition journals the position snapshot; nil records a tombstone so
// recovery knows the position was closed.
func (j *journal) SavePosition(pos *domain.Position) error {
	data, err := json.Marshal(pos)
	if err != nil {
		return errors.Wrap(err, "marshal position")
	}
	return j.wal.Write(j.wal.CurrentIndex()+1, positionKey, data)
}

// RecoverPosition replays the log and returns the last journaled position,
// or nil when the last record is a tombstone or the log is empty.
func (j *journal) RecoverPosition() (*domain.Position, error) {
	var last []byte
	for msg := range j.wal.Iterator() {
		if msg.Key == positionKey {
			last = msg.Value
		}
	}
	if len(last) == 0 {
		return nil, nil
	}

	var pos *domain.Position
	if err := json.Unmarshal(last, &pos); err != nil {
		return nil, errors.Wrap(err, "decode journaled position")
	}
	return pos, nil
}

func (j *journal) Close() error {
	return j.wal.Close()
}
