package wal

import (
	"bytes"
	"encoding/binary"
	"hash/crc32"
	"io"
	"os"
	"sync"

	"github.com/pkg/errors"
)

// Pair is one write inside a committed batch. A tombstone pair carries no
// value.
type Pair struct {
	Key       []byte
	Value     []byte
	Tombstone bool
}

// Wal is the durability collaborator invoked between commit-timestamp
// assignment and commit finalization: a batch is appended before its commit
// becomes visible, and recovery replays every intact batch in commit order.
type Wal interface {
	Append(commitTs uint64, pairs []Pair) error
	Sync() error
	Recover(apply func(commitTs uint64, pair Pair) error) (uint64, error)
	Close() error
}

// FileWal is an append-only journal file. Each record is framed as
//
//	+-----------+---------------+-----------------------------------+
//	| crc32 (4) | payload len(4)| payload                           |
//	+-----------+---------------+-----------------------------------+
//
// with the payload holding the commit timestamp, the pair count, and the
// length-prefixed pairs, all uvarint encoded.
type FileWal struct {
	mu         sync.Mutex
	file       *os.File
	syncWrites bool
	closed     bool
}

func Open(path string, syncWrites bool) (*FileWal, error) {
	file, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, errors.Wrapf(err, "open journal %s", path)
	}
	return &FileWal{file: file, syncWrites: syncWrites}, nil
}

func (w *FileWal) Append(commitTs uint64, pairs []Pair) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return errors.New("journal is closed")
	}
	if _, err := w.file.Write(encodeRecord(commitTs, pairs)); err != nil {
		return errors.Wrapf(err, "append journal record at ts %d", commitTs)
	}
	if w.syncWrites {
		if err := w.file.Sync(); err != nil {
			return errors.Wrap(err, "sync journal")
		}
	}
	return nil
}

func (w *FileWal) Sync() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.file.Sync()
}

// Recover replays every intact record from the start of the file, truncates
// a torn tail left by a crash, positions the file for appending, and returns
// the next sequence number (highest replayed commit timestamp + 1, at
// least 1).
func (w *FileWal) Recover(apply func(commitTs uint64, pair Pair) error) (uint64, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if _, err := w.file.Seek(0, io.SeekStart); err != nil {
		return 0, errors.Wrap(err, "seek journal start")
	}

	var maxTs uint64
	var validOffset int64
	reader := newRecordReader(w.file)
	for {
		commitTs, pairs, err := reader.next()
		if err == io.EOF {
			break
		}
		if errors.Is(err, ErrCorruptRecord) {
			// Torn tail from an interrupted append; everything before it
			// is intact.
			if err := w.file.Truncate(validOffset); err != nil {
				return 0, errors.Wrap(err, "truncate torn journal tail")
			}
			break
		}
		if err != nil {
			return 0, errors.Wrap(err, "read journal record")
		}
		for _, pair := range pairs {
			if err := apply(commitTs, pair); err != nil {
				return 0, err
			}
		}
		if commitTs > maxTs {
			maxTs = commitTs
		}
		validOffset = reader.offset
	}

	if _, err := w.file.Seek(0, io.SeekEnd); err != nil {
		return 0, errors.Wrap(err, "seek journal end")
	}
	return maxTs + 1, nil
}

func (w *FileWal) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return nil
	}
	w.closed = true
	if err := w.file.Sync(); err != nil {
		return errors.Wrap(err, "sync journal on close")
	}
	return w.file.Close()
}

func encodeRecord(commitTs uint64, pairs []Pair) []byte {
	var payload bytes.Buffer
	var scratch [binary.MaxVarintLen64]byte

	writeUvarint := func(v uint64) {
		n := binary.PutUvarint(scratch[:], v)
		payload.Write(scratch[:n])
	}

	writeUvarint(commitTs)
	writeUvarint(uint64(len(pairs)))
	for _, pair := range pairs {
		writeUvarint(uint64(len(pair.Key)))
		payload.Write(pair.Key)
		if pair.Tombstone {
			payload.WriteByte(1)
			continue
		}
		payload.WriteByte(0)
		writeUvarint(uint64(len(pair.Value)))
		payload.Write(pair.Value)
	}

	record := make([]byte, 8+payload.Len())
	binary.LittleEndian.PutUint32(record[0:4], crc32.ChecksumIEEE(payload.Bytes()))
	binary.LittleEndian.PutUint32(record[4:8], uint32(payload.Len()))
	copy(record[8:], payload.Bytes())
	return record
}

type recordReader struct {
	src    io.Reader
	offset int64
}

func newRecordReader(src io.Reader) *recordReader {
	return &recordReader{src: src}
}

// next returns io.EOF at a clean end of file and ErrCorruptRecord for a
// short or checksum-failing record.
func (r *recordReader) next() (uint64, []Pair, error) {
	header := make([]byte, 8)
	n, err := io.ReadFull(r.src, header)
	if err == io.EOF {
		return 0, nil, io.EOF
	}
	if err != nil {
		return 0, nil, errors.Wrap(ErrCorruptRecord, "short record header")
	}
	r.offset += int64(n)

	checksum := binary.LittleEndian.Uint32(header[0:4])
	length := binary.LittleEndian.Uint32(header[4:8])

	payload := make([]byte, length)
	n, err = io.ReadFull(r.src, payload)
	r.offset += int64(n)
	if err != nil {
		return 0, nil, errors.Wrap(ErrCorruptRecord, "short record payload")
	}
	if crc32.ChecksumIEEE(payload) != checksum {
		return 0, nil, errors.Wrap(ErrCorruptRecord, "checksum mismatch")
	}

	return decodePayload(payload)
}

func decodePayload(payload []byte) (uint64, []Pair, error) {
	reader := bytes.NewReader(payload)

	commitTs, err := binary.ReadUvarint(reader)
	if err != nil {
		return 0, nil, errors.Wrap(ErrCorruptRecord, "commit ts")
	}
	count, err := binary.ReadUvarint(reader)
	if err != nil {
		return 0, nil, errors.Wrap(ErrCorruptRecord, "pair count")
	}

	pairs := make([]Pair, 0, count)
	for i := uint64(0); i < count; i++ {
		key, err := readBlob(reader)
		if err != nil {
			return 0, nil, errors.Wrap(ErrCorruptRecord, "pair key")
		}
		tombstone, err := reader.ReadByte()
		if err != nil {
			return 0, nil, errors.Wrap(ErrCorruptRecord, "pair tombstone flag")
		}
		if tombstone == 1 {
			pairs = append(pairs, Pair{Key: key, Tombstone: true})
			continue
		}
		value, err := readBlob(reader)
		if err != nil {
			return 0, nil, errors.Wrap(ErrCorruptRecord, "pair value")
		}
		pairs = append(pairs, Pair{Key: key, Value: value})
	}
	return commitTs, pairs, nil
}

func readBlob(reader *bytes.Reader) ([]byte, error) {
	length, err := binary.ReadUvarint(reader)
	if err != nil {
		return nil, err
	}
	blob := make([]byte, length)
	if _, err := io.ReadFull(reader, blob); err != nil {
		return nil, err
	}
	return blob, nil
}
