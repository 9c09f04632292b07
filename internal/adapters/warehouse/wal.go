package warehouse

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/vmihailenco/msgpack/v5"
)

// walRecord is one spooled InsertRows call, persisted before the warehouse
// write is attempted so a crash between spool and commit can be replayed
// instead of silently losing the batch (spec.md glossary: "write-ahead
// spool").
type walRecord struct {
	Table          string `msgpack:"table"`
	Rows           []Row  `msgpack:"rows"`
	IdempotencyKey string `msgpack:"idempotency_key"`
}

// WAL is a local, crash-resilient write-ahead spool for warehouse batches.
// Records are framed the same way as a length-prefixed msgpack stream
// (4-byte big-endian length, then a msgpack payload): Append writes and
// fsyncs one record; Replay reads every record written since the file was
// last truncated by Checkpoint.
type WAL struct {
	mu   sync.Mutex
	path string
	file *os.File
}

// OpenWAL opens (creating if necessary) the spool file at path.
func OpenWAL(path string) (*WAL, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR|os.O_APPEND, 0o600)
	if err != nil {
		return nil, fmt.Errorf("open wal: %w", err)
	}
	return &WAL{path: path, file: f}, nil
}

// Append spools one batch for table, fsyncing before returning so the
// record survives a crash immediately after.
func (w *WAL) Append(table string, rows []Row, idempotencyKey string) error {
	payload, err := msgpack.Marshal(walRecord{Table: table, Rows: rows, IdempotencyKey: idempotencyKey})
	if err != nil {
		return fmt.Errorf("encode wal record: %w", err)
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	var lengthBuf [4]byte
	binary.BigEndian.PutUint32(lengthBuf[:], uint32(len(payload)))
	if _, err := w.file.Write(lengthBuf[:]); err != nil {
		return fmt.Errorf("write wal length: %w", err)
	}
	if _, err := w.file.Write(payload); err != nil {
		return fmt.Errorf("write wal payload: %w", err)
	}
	return w.file.Sync()
}

// Replay reads every spooled record from the beginning of the file and
// calls fn for each, in write order. Used on startup to flush anything
// spooled but not yet checkpointed by a prior crash.
func (w *WAL) Replay(fn func(table string, rows []Row, idempotencyKey string) error) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	f, err := os.Open(w.path)
	if err != nil {
		return fmt.Errorf("open wal for replay: %w", err)
	}
	defer f.Close()

	r := bufio.NewReader(f)
	for {
		var lengthBuf [4]byte
		if _, err := io.ReadFull(r, lengthBuf[:]); err != nil {
			if err == io.EOF {
				return nil
			}
			return fmt.Errorf("read wal length: %w", err)
		}
		payloadSize := binary.BigEndian.Uint32(lengthBuf[:])
		payload := make([]byte, payloadSize)
		if _, err := io.ReadFull(r, payload); err != nil {
			return fmt.Errorf("read wal payload: %w", err)
		}

		var rec walRecord
		if err := msgpack.Unmarshal(payload, &rec); err != nil {
			return fmt.Errorf("decode wal record: %w", err)
		}
		if err := fn(rec.Table, rec.Rows, rec.IdempotencyKey); err != nil {
			return err
		}
	}
}

// Checkpoint truncates the spool, discarding every record replayed (and
// presumably committed) so far.
func (w *WAL) Checkpoint() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.file.Truncate(0); err != nil {
		return fmt.Errorf("truncate wal: %w", err)
	}
	_, err := w.file.Seek(0, io.SeekStart)
	return err
}

func (w *WAL) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.file.Close()
}
