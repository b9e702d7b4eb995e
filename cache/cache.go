// Package cache reassembles fragmented messages.
//
// Fragments are grouped by (message type, checksum). An entry completes when
// as many distinct fragment indexes as the declared total have been seen;
// later deliveries of a complete message only update its latest sequence
// number.
//
// With a directory configured, every fragment and a metadata document per
// entry are persisted:
//
//	<dir>/<type>/<checksum>/<index>      fragment bytes
//	<dir>/<type>/<checksum>/meta.toml    fragments, complete, number, total
//
// Open rebuilds the index from the metadata documents; fragment bytes are
// read from disk on first use.
package cache

import (
	"context"
	"errors"
	"fmt"
	"hash/crc32"
	"maps"
	"slices"
	"strconv"
	"sync"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/arloliu/telwire/compress"
	"github.com/arloliu/telwire/errs"
	"github.com/arloliu/telwire/format"
	"github.com/arloliu/telwire/frame"
	"github.com/arloliu/telwire/internal/options"
	"github.com/arloliu/telwire/internal/store"
)

const metaFile = "meta.toml"

// Message is a reassembled message.
type Message struct {
	Type     uint8
	Checksum uint32
	Number   uint16 // latest sequence number seen for this checksum
	Payload  []byte
}

// metadata is the persisted form of an entry.
type metadata struct {
	Fragments int  `toml:"fragments"`
	Complete  bool `toml:"complete"`
	Number    int  `toml:"number"`
	Total     int  `toml:"total"`
}

type entry struct {
	total     uint16
	fragments map[uint16][]byte // nil bytes: persisted, not loaded yet
	complete  bool
	number    uint16
}

func (e *entry) metadata() metadata {
	return metadata{
		Fragments: len(e.fragments),
		Complete:  e.complete,
		Number:    int(e.number),
		Total:     int(e.total),
	}
}

// Cache is safe for concurrent use.
type Cache struct {
	mu      sync.Mutex
	entries map[uint8]map[uint32]*entry
	store   *store.Store
	codec   compress.Codec
	logger  zerolog.Logger
}

// Open creates a Cache and, when a directory is configured, reloads it.
func Open(ctx context.Context, opts ...Option) (*Cache, error) {
	c := &Cache{
		entries: make(map[uint8]map[uint32]*entry),
		codec:   compress.NewNoOpCompressor(),
		logger:  zerolog.Nop(),
	}
	if err := options.Apply(c, opts...); err != nil {
		return nil, err
	}
	if c.store != nil {
		if err := c.load(ctx); err != nil {
			return nil, err
		}
	}

	return c, nil
}

// load reads every type directory concurrently.
func (c *Cache) load(ctx context.Context) error {
	typeDirs, err := c.store.Dirs("")
	if err != nil {
		return fmt.Errorf("list cache dir: %w", err)
	}

	g, ctx := errgroup.WithContext(ctx)
	for _, dir := range typeDirs {
		msgType, err := strconv.ParseUint(dir, 10, 8)
		if err != nil {
			c.logger.Warn().Str("dir", dir).Msg("skipping non message type directory")
			continue
		}
		g.Go(func() error {
			entries, err := c.loadType(ctx, dir)
			if err != nil {
				return err
			}
			if len(entries) == 0 {
				return nil
			}
			c.mu.Lock()
			c.entries[uint8(msgType)] = entries
			c.mu.Unlock()

			return nil
		})
	}

	return g.Wait()
}

func (c *Cache) loadType(ctx context.Context, typeDir string) (map[uint32]*entry, error) {
	sumDirs, err := c.store.Dirs(typeDir)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", typeDir, err)
	}

	entries := make(map[uint32]*entry, len(sumDirs))
	for _, dir := range sumDirs {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		log := c.logger.With().Str("type", typeDir).Str("checksum", dir).Logger()

		checksum, err := strconv.ParseUint(dir, 10, 32)
		if err != nil {
			log.Warn().Msg("skipping non checksum directory")
			continue
		}

		var meta metadata
		if err := c.store.ReadDocument(store.Join(typeDir, dir, metaFile), &meta); err != nil {
			log.Warn().Err(err).Msg("skipping entry without readable metadata")
			continue
		}
		if meta.Total <= 0 || uint64(meta.Total) > frame.FragmentTotalType.Max() {
			log.Warn().Int("total", meta.Total).Msg("skipping entry with invalid total")
			continue
		}
		if meta.Number < 0 || uint64(meta.Number) > frame.MessageNumberType.Max() {
			log.Warn().Int("number", meta.Number).Msg("skipping entry with invalid number")
			continue
		}

		files, err := c.store.Files(store.Join(typeDir, dir))
		if err != nil {
			return nil, err
		}
		e := &entry{
			total:     uint16(meta.Total),
			fragments: make(map[uint16][]byte, len(files)),
			number:    uint16(meta.Number),
		}
		for _, name := range files {
			idx, err := strconv.ParseUint(name, 10, 16)
			if err != nil || idx >= uint64(e.total) {
				continue
			}
			e.fragments[uint16(idx)] = nil
		}
		e.complete = len(e.fragments) == int(e.total)
		if e.complete != meta.Complete {
			log.Warn().Bool("complete", meta.Complete).Int("found", len(e.fragments)).Msg("metadata disagrees with fragments on disk")
		}
		entries[uint32(checksum)] = e
	}

	return entries, nil
}

// Ingest records the fragment carried by a parsed message frame.
//
// It reports whether this fragment completed its message. Duplicates are
// ignored; a fragment of an already complete message only updates the
// latest sequence number.
func (c *Cache) Ingest(p frame.Parsed) (bool, error) {
	if !p.Valid {
		return false, fmt.Errorf("ingest invalid frame: %w", p.Err)
	}
	if p.Header.Type != format.FrameMessage || p.Message == nil {
		return false, fmt.Errorf("%w: ingest of %s frame", errs.ErrFrameKindMismatch, p.Header.Type)
	}

	return c.IngestFragment(p.Message)
}

// IngestFragment is Ingest for an already extracted fragment.
func (c *Cache) IngestFragment(frag *frame.Fragment) (bool, error) {
	if frag.Total == 0 || frag.Index >= frag.Total {
		return false, fmt.Errorf("%w: index %d of %d", errs.ErrInvalidFragment, frag.Index, frag.Total)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	// A new entry is indexed only once its first fragment is persisted.
	e, known := c.entries[frag.Type][frag.Checksum]
	if !known {
		e = &entry{total: frag.Total, fragments: make(map[uint16][]byte, frag.Total)}
	}

	if e.complete {
		if e.number != frag.Number {
			e.number = frag.Number
			if err := c.persistMeta(frag.Type, frag.Checksum, e); err != nil {
				return false, err
			}
		}

		return false, nil
	}
	if frag.Total != e.total {
		return false, fmt.Errorf("%w: total %d, entry expects %d", errs.ErrInvalidFragment, frag.Total, e.total)
	}
	if _, seen := e.fragments[frag.Index]; seen {
		return false, nil
	}

	data := slices.Clone(frag.Bytes)
	if data == nil {
		data = []byte{}
	}
	if c.store != nil {
		if err := c.store.WriteFile(fragmentPath(frag.Type, frag.Checksum, frag.Index), data); err != nil {
			return false, fmt.Errorf("persist fragment: %w", err)
		}
	}
	if !known {
		byType, ok := c.entries[frag.Type]
		if !ok {
			byType = make(map[uint32]*entry)
			c.entries[frag.Type] = byType
		}
		byType[frag.Checksum] = e
	}
	e.fragments[frag.Index] = data
	e.number = frag.Number
	e.complete = len(e.fragments) == int(e.total)

	if err := c.persistMeta(frag.Type, frag.Checksum, e); err != nil {
		return false, err
	}
	if e.complete {
		c.logger.Info().
			Uint8("type", frag.Type).
			Uint32("checksum", frag.Checksum).
			Uint16("number", frag.Number).
			Uint16("fragments", e.total).
			Msg("message complete")
	}

	return e.complete, nil
}

// Complete returns the checksums of the complete messages of msgType in ascending order.
func (c *Cache) Complete(msgType uint8) []uint32 {
	c.mu.Lock()
	defer c.mu.Unlock()

	var out []uint32
	for sum, e := range c.entries[msgType] {
		if e.complete {
			out = append(out, sum)
		}
	}
	slices.Sort(out)

	return out
}

// Types returns the message types with at least one entry, in ascending order.
func (c *Cache) Types() []uint8 {
	c.mu.Lock()
	defer c.mu.Unlock()

	return slices.Sorted(maps.Keys(c.entries))
}

// Content reassembles a complete message.
//
// It fails with errs.ErrMessageUnknown for an unknown (type, checksum),
// errs.ErrMessageIncomplete while fragments are missing and
// errs.ErrChecksumMismatch when the reassembled bytes do not match checksum.
func (c *Cache) Content(msgType uint8, checksum uint32) (Message, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[msgType][checksum]
	if !ok {
		return Message{}, fmt.Errorf("%w: type %d checksum %d", errs.ErrMessageUnknown, msgType, checksum)
	}
	if !e.complete {
		return Message{}, fmt.Errorf("%w: %d of %d fragments", errs.ErrMessageIncomplete, len(e.fragments), e.total)
	}

	var data []byte
	for i := range e.total {
		frag := e.fragments[i]
		if frag == nil {
			if c.store == nil {
				return Message{}, fmt.Errorf("%w: fragment %d missing", errs.ErrMessageIncomplete, i)
			}
			b, err := c.store.ReadFile(fragmentPath(msgType, checksum, i))
			if err != nil {
				return Message{}, fmt.Errorf("load fragment %d: %w", i, err)
			}
			frag = b
			e.fragments[i] = b
		}
		data = append(data, frag...)
	}

	if got := crc32.ChecksumIEEE(data); got != checksum {
		return Message{}, fmt.Errorf("%w: reassembled %08x, expected %08x", errs.ErrChecksumMismatch, got, checksum)
	}
	payload, err := c.codec.Decompress(data)
	if err != nil {
		return Message{}, fmt.Errorf("decompress message: %w", err)
	}
	if payload == nil {
		payload = []byte{}
	}

	return Message{Type: msgType, Checksum: checksum, Number: e.number, Payload: payload}, nil
}

// Remove forgets a message and deletes its persisted files.
func (c *Cache) Remove(msgType uint8, checksum uint32) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	byType, ok := c.entries[msgType]
	if !ok {
		return nil
	}
	delete(byType, checksum)
	if len(byType) == 0 {
		delete(c.entries, msgType)
	}
	if c.store == nil {
		return nil
	}

	err := c.store.Remove(entryPath(msgType, checksum))
	if len(byType) == 0 {
		err = errors.Join(err, c.removeEmptyType(msgType))
	}

	return err
}

func (c *Cache) removeEmptyType(msgType uint8) error {
	dir := strconv.FormatUint(uint64(msgType), 10)
	left, err := c.store.Dirs(dir)
	if err != nil || len(left) > 0 {
		return err
	}

	return c.store.Remove(dir)
}

// persistMeta writes the metadata document of an entry. Callers hold c.mu.
func (c *Cache) persistMeta(msgType uint8, checksum uint32, e *entry) error {
	if c.store == nil {
		return nil
	}
	if err := c.store.WriteDocument(store.Join(entryPath(msgType, checksum), metaFile), e.metadata()); err != nil {
		return fmt.Errorf("persist metadata: %w", err)
	}

	return nil
}

func entryPath(msgType uint8, checksum uint32) string {
	return store.Join(strconv.FormatUint(uint64(msgType), 10), strconv.FormatUint(uint64(checksum), 10))
}

func fragmentPath(msgType uint8, checksum uint32, index uint16) string {
	return store.Join(entryPath(msgType, checksum), strconv.FormatUint(uint64(index), 10))
}
