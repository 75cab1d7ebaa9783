package journal

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"io"
	"log/slog"
	"os"
	"path/filepath"
)

// Codec serializes journal entries for the file-backed variant. Embedders
// bring their own: a generic Go journal needs something concrete to encode
// against on disk.
type Codec[T any] interface {
	Encode(T) ([]byte, error)
	Decode([]byte) (T, error)
}

const (
	magic         = "SYNJ"
	formatVersion = 1
	headerSize    = 32
)

// fileBacking persists a journal's entries as a header plus an append-only
// sequence of length-prefixed, checksummed records:
//
//	header:  magic(4) version(4) base(8) reserved(16)
//	record:  lsn(8) length(4) payload(length) crc32(4)
//
// Append is a true incremental append (fast path, fsync'd). TruncateTo and
// Rollup rewrite the whole file via a temp-file-plus-rename swap, which is
// atomic on the same filesystem — simpler to reason about than in-place
// truncation and still crash-safe, since the rename only becomes visible
// once the new file is fully written and fsync'd.
type fileBacking[T any] struct {
	path  string
	codec Codec[T]
	lock  *fileLock
}

// openFile opens or creates a journal file at path, returning the persisted
// (base, entries) and a fileBacking ready to be attached to a Journal. A
// torn record at the tail (truncated length, short read, or checksum
// mismatch) is logged and the file is treated as ending at the last good
// record.
func openFile[T any](path string, codec Codec[T]) (LSN, []T, *fileBacking[T], error) {
	lock := newFileLock(path)
	if err := lock.acquire(); err != nil {
		return 0, nil, nil, err
	}
	fb := &fileBacking[T]{path: path, codec: codec, lock: lock}

	f, err := os.OpenFile(path, os.O_RDONLY|os.O_CREATE, 0o600)
	if err != nil {
		lock.release()
		return 0, nil, nil, fmt.Errorf("journal: open %s: %w", path, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		lock.release()
		return 0, nil, nil, fmt.Errorf("journal: stat %s: %w", path, err)
	}
	if info.Size() == 0 {
		if err := fb.writeHeader(0); err != nil {
			lock.release()
			return 0, nil, nil, err
		}
		return 0, nil, fb, nil
	}

	r := bufio.NewReader(f)
	header := make([]byte, headerSize)
	if _, err := io.ReadFull(r, header); err != nil {
		lock.release()
		return 0, nil, nil, fmt.Errorf("journal: read header %s: %w", path, err)
	}
	if string(header[:4]) != magic {
		lock.release()
		return 0, nil, nil, fmt.Errorf("journal: %s: bad magic", path)
	}
	version := binary.BigEndian.Uint32(header[4:8])
	if version != formatVersion {
		lock.release()
		return 0, nil, nil, fmt.Errorf("journal: %s: unsupported format version %d", path, version)
	}
	base := LSN(binary.BigEndian.Uint64(header[8:16]))

	var entries []T
	nextLSN := base
	for {
		recHeader := make([]byte, 12) // lsn(8) + length(4)
		if _, err := io.ReadFull(r, recHeader); err != nil {
			if err == io.EOF {
				break
			}
			slog.Warn("journal: torn record header, truncating to last good record", "path", path, "err", err)
			break
		}
		lsn := LSN(binary.BigEndian.Uint64(recHeader[0:8]))
		length := binary.BigEndian.Uint32(recHeader[8:12])

		payload := make([]byte, length)
		if _, err := io.ReadFull(r, payload); err != nil {
			slog.Warn("journal: torn record payload, truncating to last good record", "path", path, "lsn", lsn, "err", err)
			break
		}
		crcBuf := make([]byte, 4)
		if _, err := io.ReadFull(r, crcBuf); err != nil {
			slog.Warn("journal: torn record checksum, truncating to last good record", "path", path, "lsn", lsn, "err", err)
			break
		}
		wantCRC := binary.BigEndian.Uint32(crcBuf)
		gotCRC := crc32.ChecksumIEEE(append(append([]byte(nil), recHeader...), payload...))
		if gotCRC != wantCRC {
			slog.Warn("journal: checksum mismatch, truncating to last good record", "path", path, "lsn", lsn)
			break
		}
		if lsn != nextLSN {
			slog.Warn("journal: out-of-sequence lsn on disk, truncating to last good record", "path", path, "want", nextLSN, "got", lsn)
			break
		}

		value, err := codec.Decode(payload)
		if err != nil {
			slog.Warn("journal: undecodable record, truncating to last good record", "path", path, "lsn", lsn, "err", err)
			break
		}
		entries = append(entries, value)
		nextLSN++
	}

	return base, entries, fb, nil
}

func (fb *fileBacking[T]) writeHeader(base LSN) error {
	f, err := os.OpenFile(fb.path, os.O_WRONLY|os.O_CREATE, 0o600)
	if err != nil {
		return fmt.Errorf("journal: open %s for header: %w", fb.path, err)
	}
	defer f.Close()

	header := make([]byte, headerSize)
	copy(header[:4], magic)
	binary.BigEndian.PutUint32(header[4:8], formatVersion)
	binary.BigEndian.PutUint64(header[8:16], uint64(base))
	if _, err := f.WriteAt(header, 0); err != nil {
		return fmt.Errorf("journal: write header %s: %w", fb.path, err)
	}
	return f.Sync()
}

// appendRecord fsyncs a single new record onto the end of the file.
func (fb *fileBacking[T]) appendRecord(lsn LSN, value T) error {
	payload, err := fb.codec.Encode(value)
	if err != nil {
		return fmt.Errorf("journal: encode lsn %d: %w", lsn, err)
	}

	f, err := os.OpenFile(fb.path, os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return fmt.Errorf("journal: open %s for append: %w", fb.path, err)
	}
	defer f.Close()

	recHeader := make([]byte, 12)
	binary.BigEndian.PutUint64(recHeader[0:8], uint64(lsn))
	binary.BigEndian.PutUint32(recHeader[8:12], uint32(len(payload)))

	crc := crc32.ChecksumIEEE(append(append([]byte(nil), recHeader...), payload...))
	crcBuf := make([]byte, 4)
	binary.BigEndian.PutUint32(crcBuf, crc)

	buf := make([]byte, 0, len(recHeader)+len(payload)+len(crcBuf))
	buf = append(buf, recHeader...)
	buf = append(buf, payload...)
	buf = append(buf, crcBuf...)

	if _, err := f.Write(buf); err != nil {
		return fmt.Errorf("journal: append lsn %d: %w", lsn, err)
	}
	return f.Sync()
}

// rewrite replaces the entire file contents with header(base) followed by
// entries, via a temp file + atomic rename.
func (fb *fileBacking[T]) rewrite(base LSN, entries []T) error {
	dir := filepath.Dir(fb.path)
	tmp, err := os.CreateTemp(dir, filepath.Base(fb.path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("journal: create temp for rewrite: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath) // no-op once renamed

	header := make([]byte, headerSize)
	copy(header[:4], magic)
	binary.BigEndian.PutUint32(header[4:8], formatVersion)
	binary.BigEndian.PutUint64(header[8:16], uint64(base))
	if _, err := tmp.Write(header); err != nil {
		tmp.Close()
		return fmt.Errorf("journal: write rewrite header: %w", err)
	}

	for i, value := range entries {
		lsn := base + LSN(i)
		payload, err := fb.codec.Encode(value)
		if err != nil {
			tmp.Close()
			return fmt.Errorf("journal: encode lsn %d: %w", lsn, err)
		}
		recHeader := make([]byte, 12)
		binary.BigEndian.PutUint64(recHeader[0:8], uint64(lsn))
		binary.BigEndian.PutUint32(recHeader[8:12], uint32(len(payload)))
		crc := crc32.ChecksumIEEE(append(append([]byte(nil), recHeader...), payload...))
		crcBuf := make([]byte, 4)
		binary.BigEndian.PutUint32(crcBuf, crc)

		if _, err := tmp.Write(recHeader); err != nil {
			tmp.Close()
			return fmt.Errorf("journal: write rewrite record header: %w", err)
		}
		if _, err := tmp.Write(payload); err != nil {
			tmp.Close()
			return fmt.Errorf("journal: write rewrite payload: %w", err)
		}
		if _, err := tmp.Write(crcBuf); err != nil {
			tmp.Close()
			return fmt.Errorf("journal: write rewrite checksum: %w", err)
		}
	}

	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("journal: sync rewrite: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("journal: close rewrite temp: %w", err)
	}
	if err := os.Rename(tmpPath, fb.path); err != nil {
		return fmt.Errorf("journal: rename rewrite into place: %w", err)
	}
	return nil
}

// Open opens (creating if needed) a file-backed journal at path, replaying
// any persisted entries. A torn tail record is dropped.
func Open[T any](path string, codec Codec[T], opts ...Option[T]) (*Journal[T], error) {
	base, entries, fb, err := openFile(path, codec)
	if err != nil {
		return nil, err
	}
	j := &Journal[T]{equal: defaultEqual[T], base: base, entries: entries, file: fb}
	for _, opt := range opts {
		opt(j)
	}
	return j, nil
}

// Close releases the journal's file lock, if it is file-backed. A
// purely in-memory journal's Close is a no-op.
func (j *Journal[T]) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.file != nil && j.file.lock != nil {
		j.file.lock.release()
	}
	return nil
}

// Checkpoint returns the journal's current (base, entries) for callers that
// need the full durable state without using the file loader directly.
func (j *Journal[T]) Checkpoint() (LSN, []T) {
	j.mu.Lock()
	defer j.mu.Unlock()
	entries := append([]T(nil), j.entries...)
	return j.base, entries
}
