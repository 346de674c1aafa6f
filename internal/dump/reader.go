package dump

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
	"os"
	"time"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/Adithya-Monish-Kumar-K/ngram-similarity/internal/ngram"
)

var ErrCorrupt = errors.New("corrupt dump file")

// Header is the decoded fixed-size file header.
type Header struct {
	Version     uint32
	MaxN        int
	Flags       uint32
	Entries     uint64
	PayloadSize int64
	BookCount   int
	CreatedAt   time.Time
}

// Info is what Read learned about a dump besides its entries.
type Info struct {
	Header Header
	Meta   Meta
	// Loaded is the number of entries placed in the trie.
	Loaded uint64
}

// ReadHeader decodes and validates the header of an open dump.
func ReadHeader(r io.ReaderAt) (Header, error) {
	buf := make([]byte, HeaderSize)
	if _, err := r.ReadAt(buf, 0); err != nil {
		return Header{}, fmt.Errorf("reading header: %w", err)
	}
	if magic := binary.LittleEndian.Uint32(buf[0:4]); magic != Magic {
		return Header{}, fmt.Errorf("%w: bad magic bytes %x", ErrCorrupt, magic)
	}
	h := Header{
		Version:     binary.LittleEndian.Uint32(buf[4:8]),
		MaxN:        int(binary.LittleEndian.Uint32(buf[8:12])),
		Flags:       binary.LittleEndian.Uint32(buf[12:16]),
		Entries:     binary.LittleEndian.Uint64(buf[16:24]),
		PayloadSize: int64(binary.LittleEndian.Uint64(buf[24:32])),
		BookCount:   int(binary.LittleEndian.Uint64(buf[32:40])),
		CreatedAt:   time.Unix(int64(binary.LittleEndian.Uint64(buf[40:48])), 0).UTC(),
	}
	if h.Version != FormatVersion {
		return Header{}, fmt.Errorf("%w: unsupported version %d", ErrCorrupt, h.Version)
	}
	return h, nil
}

// Read loads the dump at path into trie, stopping after limit entries when
// limit > 0. The payload checksum is verified before any entry is applied.
func Read(path string, trie *ngram.Trie, limit int) (Info, error) {
	f, err := os.Open(path)
	if err != nil {
		return Info{}, fmt.Errorf("opening dump file: %w", err)
	}
	defer f.Close()

	header, err := ReadHeader(f)
	if err != nil {
		return Info{}, err
	}
	info := Info{Header: header}

	footer := make([]byte, FooterSize)
	if _, err := f.ReadAt(footer, HeaderSize+header.PayloadSize); err != nil {
		return info, fmt.Errorf("%w: reading footer: %v", ErrCorrupt, err)
	}
	payload := io.NewSectionReader(f, HeaderSize, header.PayloadSize)
	crc := crc32.NewIEEE()
	if _, err := io.Copy(crc, payload); err != nil {
		return info, fmt.Errorf("checksumming payload: %w", err)
	}
	if want := binary.LittleEndian.Uint32(footer[0:4]); crc.Sum32() != want {
		return info, fmt.Errorf("%w: checksum mismatch (got %08x, want %08x)", ErrCorrupt, crc.Sum32(), want)
	}
	if _, err := payload.Seek(0, io.SeekStart); err != nil {
		return info, fmt.Errorf("rewinding payload: %w", err)
	}

	dec := msgpack.NewDecoder(bufio.NewReaderSize(payload, 64*1024))
	if err := dec.Decode(&info.Meta); err != nil {
		return info, fmt.Errorf("%w: decoding meta: %v", ErrCorrupt, err)
	}
	for i := uint64(0); i < header.Entries; i++ {
		if limit > 0 && info.Loaded >= uint64(limit) {
			break
		}
		var rec record
		if err := dec.Decode(&rec); err != nil {
			return info, fmt.Errorf("%w: decoding entry %d: %v", ErrCorrupt, i, err)
		}
		if len(rec.Refs) > 0 {
			trie.SetEntry(rec.Key, rec.Count, rec.Refs)
		} else {
			trie.Set(rec.Key, rec.Count)
		}
		info.Loaded++
	}
	return info, nil
}
