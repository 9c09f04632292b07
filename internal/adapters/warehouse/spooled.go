package warehouse

import "context"

// SpooledWarehouse wraps a Warehouse with a WAL: every InsertRows call is
// appended to the spool before being attempted against the backing
// Warehouse, and the spool is replayed against that same backing Warehouse
// on construction, so a process crash between spool and commit is repaired
// on the next startup rather than losing the batch.
type SpooledWarehouse struct {
	backing Warehouse
	wal     *WAL
}

// NewSpooledWarehouse opens walPath, replays anything left over from a
// prior crash against backing, checkpoints, and returns a Warehouse that
// spools future writes the same way.
func NewSpooledWarehouse(ctx context.Context, backing Warehouse, walPath string) (*SpooledWarehouse, error) {
	wal, err := OpenWAL(walPath)
	if err != nil {
		return nil, err
	}

	replayErr := wal.Replay(func(table string, rows []Row, idempotencyKey string) error {
		return backing.InsertRows(ctx, table, rows, idempotencyKey)
	})
	if replayErr != nil {
		return nil, replayErr
	}
	if err := wal.Checkpoint(); err != nil {
		return nil, err
	}

	return &SpooledWarehouse{backing: backing, wal: wal}, nil
}

func (s *SpooledWarehouse) InsertRows(ctx context.Context, table string, rows []Row, idempotencyKey string) error {
	if err := s.wal.Append(table, rows, idempotencyKey); err != nil {
		return err
	}
	if err := s.backing.InsertRows(ctx, table, rows, idempotencyKey); err != nil {
		return err
	}
	return s.wal.Checkpoint()
}

func (s *SpooledWarehouse) ExistsByKey(ctx context.Context, table string, key string) (bool, error) {
	return s.backing.ExistsByKey(ctx, table, key)
}

func (s *SpooledWarehouse) Close() error {
	return s.wal.Close()
}
