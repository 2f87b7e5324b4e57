package storage

import (
	"bufio"
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"sync"

	"github.com/coffersTech/loghell/internal/model"
	"github.com/klauspost/compress/zstd"
	"github.com/rs/zerolog"
	"golang.org/x/crypto/blake2b"
)

// MagicHeader starts every data file.
var MagicHeader = []byte("LOGHELL1")

var ErrInvalidHeader = errors.New("invalid data file header")

const (
	recordPut    byte = 1
	recordDelete byte = 2

	// Len(4) + Kind(1) + Key(8) + Sum(32)
	recordHeaderSize = 4 + 1 + 8 + blake2b.Size256
)

type recordPos struct {
	offset int64
	size   uint32 // compressed payload size
}

// File is an append-only, zstd compressed log of records with an in-memory
// key directory. Opening the file replays it to rebuild the directory.
//
// Record layout: [Len uint32][Kind uint8][Key uint64][Sum 32 bytes][Payload Len bytes]
// where Sum is blake2b-256 over Kind, Key and Payload.
type File struct {
	mu     sync.RWMutex
	file   *os.File
	path   string
	end    int64
	keydir map[model.Key]recordPos
	order  []model.Key

	encoder *zstd.Encoder
	decoder *zstd.Decoder
	log     zerolog.Logger
}

// OpenFile opens or creates the data file at path.
func OpenFile(path string, log zerolog.Logger) (*File, error) {
	if path == "" {
		return nil, errors.New("empty file storage path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return nil, err
	}

	enc, err := zstd.NewWriter(nil)
	if err != nil {
		f.Close()
		return nil, err
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		f.Close()
		return nil, err
	}

	fs := &File{
		file:    f,
		path:    path,
		keydir:  make(map[model.Key]recordPos),
		encoder: enc,
		decoder: dec,
		log:     log,
	}
	if err := fs.replay(); err != nil {
		fs.Close()
		return nil, err
	}
	return fs, nil
}

// replay validates the header and rebuilds the key directory. A torn or
// corrupted tail, as left by a crash mid-append, is truncated.
func (fs *File) replay() error {
	info, err := fs.file.Stat()
	if err != nil {
		return err
	}
	if info.Size() < int64(len(MagicHeader)) {
		// A new file, or a crash while its header was being written.
		partial := make([]byte, info.Size())
		if _, err := fs.file.ReadAt(partial, 0); err != nil {
			return fmt.Errorf("read header: %w", err)
		}
		if !bytes.HasPrefix(MagicHeader, partial) {
			return ErrInvalidHeader
		}
		if _, err := fs.file.WriteAt(MagicHeader, 0); err != nil {
			return err
		}
		fs.end = int64(len(MagicHeader))
		return nil
	}

	header := make([]byte, len(MagicHeader))
	if _, err := fs.file.ReadAt(header, 0); err != nil {
		return fmt.Errorf("read header: %w", err)
	}
	if !bytes.Equal(header, MagicHeader) {
		return ErrInvalidHeader
	}

	r := bufio.NewReader(io.NewSectionReader(fs.file, int64(len(MagicHeader)), info.Size()))
	offset := int64(len(MagicHeader))
	var count int
	for {
		kind, key, payload, err := readRecord(r, info.Size()-offset)
		if err == io.EOF {
			break
		}
		if err != nil {
			fs.log.Warn().Err(err).Int64("offset", offset).Str("path", fs.path).Msg("truncating data file after bad record")
			if err := fs.file.Truncate(offset); err != nil {
				return err
			}
			break
		}
		switch kind {
		case recordPut:
			fs.index(key, recordPos{offset: offset, size: uint32(len(payload))})
		case recordDelete:
			fs.unindex(key)
		}
		offset += int64(recordHeaderSize + len(payload))
		count++
	}
	fs.end = offset
	fs.log.Debug().Int("records", count).Int("keys", len(fs.keydir)).Str("path", fs.path).Msg("data file replayed")
	return nil
}

// readRecord reads the next record from r. remaining bounds the payload
// length a record header may claim.
func readRecord(r io.Reader, remaining int64) (byte, model.Key, []byte, error) {
	header := make([]byte, recordHeaderSize)
	n, err := io.ReadFull(r, header)
	if err == io.EOF {
		return 0, 0, nil, io.EOF
	}
	if err != nil {
		return 0, 0, nil, fmt.Errorf("record header (%d bytes): %w", n, err)
	}
	length := binary.LittleEndian.Uint32(header[0:4])
	kind := header[4]
	key := model.Key(binary.LittleEndian.Uint64(header[5:13]))

	if int64(length) > remaining-recordHeaderSize {
		return 0, 0, nil, fmt.Errorf("record length %d exceeds %d remaining bytes: %w", length, remaining-recordHeaderSize, ErrCorrupted)
	}
	payload := make([]byte, length)
	if _, err := io.ReadFull(r, payload); err != nil {
		return 0, 0, nil, fmt.Errorf("record payload: %w", err)
	}
	if !bytes.Equal(header[13:], checksum(kind, key, payload)) {
		return 0, 0, nil, ErrCorrupted
	}
	if kind != recordPut && kind != recordDelete {
		return 0, 0, nil, fmt.Errorf("unknown record kind %d", kind)
	}
	return kind, key, payload, nil
}

func checksum(kind byte, key model.Key, payload []byte) []byte {
	h, _ := blake2b.New256(nil)
	var kb [9]byte
	kb[0] = kind
	binary.LittleEndian.PutUint64(kb[1:], uint64(key))
	h.Write(kb[:])
	h.Write(payload)
	return h.Sum(nil)
}

func encodeRecord(kind byte, key model.Key, payload []byte) []byte {
	buf := make([]byte, recordHeaderSize, recordHeaderSize+len(payload))
	binary.LittleEndian.PutUint32(buf[0:4], uint32(len(payload)))
	buf[4] = kind
	binary.LittleEndian.PutUint64(buf[5:13], uint64(key))
	copy(buf[13:], checksum(kind, key, payload))
	return append(buf, payload...)
}

func (fs *File) index(key model.Key, pos recordPos) {
	if _, ok := fs.keydir[key]; !ok {
		fs.order = append(fs.order, key)
	}
	fs.keydir[key] = pos
}

func (fs *File) unindex(key model.Key) {
	delete(fs.keydir, key)
	if idx := slices.Index(fs.order, key); idx >= 0 {
		fs.order = slices.Delete(fs.order, idx, idx+1)
	}
}

// append writes one record at the end of the file. Caller holds fs.mu.
func (fs *File) append(kind byte, key model.Key, payload []byte) (int64, error) {
	rec := encodeRecord(kind, key, payload)
	offset := fs.end
	if _, err := fs.file.WriteAt(rec, offset); err != nil {
		return 0, err
	}
	fs.end += int64(len(rec))
	return offset, nil
}

// Write appends a put record for key and points the key directory at it.
func (fs *File) Write(_ context.Context, key model.Key, data []byte) error {
	compressed := fs.encoder.EncodeAll(data, make([]byte, 0, len(data)))

	fs.mu.Lock()
	defer fs.mu.Unlock()
	offset, err := fs.append(recordPut, key, compressed)
	if err != nil {
		return &OpError{Op: "write", Key: key, Err: err}
	}
	fs.index(key, recordPos{offset: offset, size: uint32(len(compressed))})
	return nil
}

// Read decodes the latest record stored for key.
func (fs *File) Read(_ context.Context, key model.Key) ([]byte, error) {
	fs.mu.RLock()
	pos, ok := fs.keydir[key]
	fs.mu.RUnlock()
	if !ok {
		return nil, &OpError{Op: "read", Key: key, Err: ErrNotFound}
	}
	data, err := fs.readAt(key, pos)
	if err != nil {
		return nil, &OpError{Op: "read", Key: key, Err: err}
	}
	return data, nil
}

func (fs *File) readAt(key model.Key, pos recordPos) ([]byte, error) {
	buf := make([]byte, recordHeaderSize+int(pos.size))
	if _, err := fs.file.ReadAt(buf, pos.offset); err != nil {
		return nil, err
	}
	kind, gotKey, payload, err := readRecord(bytes.NewReader(buf), int64(len(buf)))
	if err != nil {
		return nil, err
	}
	if kind != recordPut || gotKey != key {
		return nil, ErrCorrupted
	}
	return fs.decoder.DecodeAll(payload, nil)
}

// Delete appends a tombstone for key.
func (fs *File) Delete(_ context.Context, key model.Key) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	if _, ok := fs.keydir[key]; !ok {
		return &OpError{Op: "delete", Key: key, Err: ErrNotFound}
	}
	if _, err := fs.append(recordDelete, key, nil); err != nil {
		return &OpError{Op: "delete", Key: key, Err: err}
	}
	fs.unindex(key)
	return nil
}

// List calls fn for every live key in first-write order.
func (fs *File) List(ctx context.Context, fn func(model.Key, []byte) error) error {
	fs.mu.RLock()
	keys := slices.Clone(fs.order)
	positions := make([]recordPos, len(keys))
	for i, k := range keys {
		positions[i] = fs.keydir[k]
	}
	fs.mu.RUnlock()

	for i, key := range keys {
		if err := ctx.Err(); err != nil {
			return err
		}
		data, err := fs.readAt(key, positions[i])
		if err != nil {
			return &OpError{Op: "list", Key: key, Err: err}
		}
		if err := fn(key, data); err != nil {
			return err
		}
	}
	return nil
}

// Close syncs and closes the data file.
func (fs *File) Close() error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	fs.encoder.Close()
	fs.decoder.Close()
	if err := fs.file.Sync(); err != nil {
		fs.file.Close()
		return err
	}
	return fs.file.Close()
}
