// Package dump persists a trie in a compact binary file (".ngd") that loads
// far faster than the line-oriented text dump.
//
// Layout:
//
//	header  48 bytes, little endian
//	  0  magic "NGD1"      4  version
//	  8  max n            12  flags (bit 0: refs)
//	 16  entry count      24  payload size
//	 32  book count       40  created (unix seconds)
//	payload  msgpack stream: one Meta value, then one record per entry in
//	         key order
//	footer   8 bytes: CRC32 (IEEE) of the payload, magic
//
// Files are written to a ".tmp" sibling and renamed once complete, so a
// reader never sees a partial dump.
package dump

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/Adithya-Monish-Kumar-K/ngram-similarity/internal/ngram"
)

const (
	Magic         uint32 = 0x3144474E // "NGD1"
	FormatVersion uint32 = 1
	HeaderSize           = 48
	FooterSize           = 8

	FlagRefs uint32 = 1 << 0
)

// Meta travels in the payload ahead of the entries.
type Meta struct {
	Description string            `msgpack:"description"`
	MaxN        int               `msgpack:"max_n"`
	BookCount   int               `msgpack:"book_count"`
	Index       map[uint32]string `msgpack:"index,omitempty"`
}

type record struct {
	Key   string   `msgpack:"k"`
	Count uint64   `msgpack:"c"`
	Refs  []uint32 `msgpack:"r,omitempty"`
}

type countingWriter struct {
	w io.Writer
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	return n, err
}

// Write stores every entry of trie at path and returns the number written.
func Write(path string, trie *ngram.Trie, meta Meta) (n uint64, err error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return 0, fmt.Errorf("creating dump directory: %w", err)
		}
	}
	tmpPath := path + ".tmp"
	f, err := os.Create(tmpPath)
	if err != nil {
		return 0, fmt.Errorf("creating temp dump file: %w", err)
	}
	defer func() {
		if err != nil {
			f.Close()
			os.Remove(tmpPath)
		}
	}()

	header := make([]byte, HeaderSize)
	if _, err := f.Write(header); err != nil {
		return 0, fmt.Errorf("writing header: %w", err)
	}

	crc := crc32.NewIEEE()
	payload := &countingWriter{w: io.MultiWriter(f, crc)}
	buf := bufio.NewWriterSize(payload, 64*1024)
	enc := msgpack.NewEncoder(buf)

	if err := enc.Encode(meta); err != nil {
		return 0, fmt.Errorf("encoding meta: %w", err)
	}
	var flags uint32
	if trie.TracksRefs() {
		flags |= FlagRefs
	}
	for key, e := range trie.All() {
		rec := record{Key: key, Count: e.Count}
		if e.Refs != nil && !e.Refs.IsEmpty() {
			rec.Refs = e.Refs.ToArray()
		}
		if err := enc.Encode(&rec); err != nil {
			return 0, fmt.Errorf("encoding entry %q: %w", key, err)
		}
		n++
	}
	if err := buf.Flush(); err != nil {
		return 0, fmt.Errorf("flushing payload: %w", err)
	}

	footer := make([]byte, FooterSize)
	binary.LittleEndian.PutUint32(footer[0:4], crc.Sum32())
	binary.LittleEndian.PutUint32(footer[4:8], Magic)
	if _, err := f.Write(footer); err != nil {
		return 0, fmt.Errorf("writing footer: %w", err)
	}

	binary.LittleEndian.PutUint32(header[0:4], Magic)
	binary.LittleEndian.PutUint32(header[4:8], FormatVersion)
	binary.LittleEndian.PutUint32(header[8:12], uint32(meta.MaxN))
	binary.LittleEndian.PutUint32(header[12:16], flags)
	binary.LittleEndian.PutUint64(header[16:24], n)
	binary.LittleEndian.PutUint64(header[24:32], uint64(payload.n))
	binary.LittleEndian.PutUint64(header[32:40], uint64(meta.BookCount))
	binary.LittleEndian.PutUint64(header[40:48], uint64(time.Now().Unix()))
	if _, err := f.WriteAt(header, 0); err != nil {
		return 0, fmt.Errorf("updating header: %w", err)
	}
	if err := f.Sync(); err != nil {
		return 0, fmt.Errorf("syncing dump file: %w", err)
	}
	if err := f.Close(); err != nil {
		return 0, fmt.Errorf("closing dump file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return 0, fmt.Errorf("renaming dump file: %w", err)
	}
	return n, nil
}
