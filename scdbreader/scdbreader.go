// Package scdbreader implements the reader side of the artifact format:
// it sniffs the magic, parses the fixed header, memory-maps the payload,
// and answers Exist/Get/PrefixGet queries against either the
// trie-indexed or the hash-indexed variant without ever mutating the
// file. A Reader is immutable after construction and safe to share
// across concurrent goroutines: all observable state lives in read-only
// mapped pages and owned decoded integers.
package scdbreader

import (
	"bytes"
	"fmt"
	"math"
	"os"

	"github.com/edsrzf/mmap-go"
	"github.com/golang/snappy"
	"github.com/sirupsen/logrus"
	"github.com/zeebo/xxh3"

	"github.com/robbinfan/cloud-scdb/checksum"
	"github.com/robbinfan/cloud-scdb/errs"
	"github.com/robbinfan/cloud-scdb/ioutil2"
	"github.com/robbinfan/cloud-scdb/memreport"
	"github.com/robbinfan/cloud-scdb/pfordelta"
	"github.com/robbinfan/cloud-scdb/sctrie"
	"github.com/robbinfan/cloud-scdb/sformat"
	"github.com/robbinfan/cloud-scdb/varint"
)

// Entry is one (key, value) pair yielded by PrefixGet. Value is nil for Set
// mode artifacts.
type Entry struct {
	Key   []byte
	Value []byte
}

// Stats is introspection on an open artifact, useful for CLI summaries and
// tests.
type Stats struct {
	Format        string
	BuildType     string
	ValueEncoding string
	NumKeys       int
}

// Options configures Open.
type Options struct {
	populate bool
	logger   *logrus.Logger
}

// Option mutates Options.
type Option func(*Options)

// WithPopulate requests the mapping be pre-faulted so the first query round
// doesn't pay demand-paging latency lazily; it is a best-effort hint.
func WithPopulate() Option { return func(o *Options) { o.populate = true } }

// WithLogger overrides the default discard logger used for query-time
// diagnostics: a Get against a Set-mode artifact, or a Get whose stored
// value cannot be decoded, returns empty and logs, rather than panicking.
// PrefixGet against the hash variant returns errs.InvalidOperation instead.
func WithLogger(l *logrus.Logger) Option { return func(o *Options) { o.logger = l } }

func defaultOptions() Options {
	l := logrus.New()
	l.SetOutput(logDiscard{})
	return Options{logger: l}
}

type logDiscard struct{}

func (logDiscard) Write(p []byte) (int, error) { return len(p), nil }

// engine is the per-variant query dispatch bound once at construction, so
// the hot path never re-tests (build_type, value_encoding) after Open.
type engine interface {
	exist(key []byte) bool
	get(key []byte) ([]byte, bool, error)
	prefixGet(prefix []byte, limit int) ([]Entry, error)
	stats() Stats
	memReport() memreport.MemReport
}

// Reader maps one on-disk artifact read-only and answers point and prefix
// queries. Construct with Open; release resources with Close.
type Reader struct {
	file *os.File
	mm   mmap.MMap

	buildType     sformat.BuildType
	valueEncoding sformat.ValueEncoding
	logger        *logrus.Logger

	eng engine

	closed bool
}

// Open memory-maps path read-only, parses its header, and dispatches to the
// trie or hash engine by magic. It fails with errs.UnsupportedFormat on an
// unrecognized magic and errs.IntegrityError if the artifact carries a
// checksum that does not match its contents.
func Open(path string, opts ...Option) (*Reader, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("scdbreader: open %s: %w", path, errs.IoError)
	}
	st, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("scdbreader: stat %s: %w", path, errs.IoError)
	}
	size := st.Size()
	if size < int64(sformat.MagicLen) {
		f.Close()
		return nil, fmt.Errorf("scdbreader: file shorter than magic: %w", errs.MalformedData)
	}

	mm, err := mmap.MapRegion(f, int(size), mmap.RDONLY, 0, 0)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("scdbreader: mmap %s: %w", path, errs.IoError)
	}
	data := []byte(mm)
	if o.populate {
		prefault(data)
	}

	r := &Reader{file: f, mm: mm, logger: o.logger}

	magic := string(data[:sformat.MagicLen])
	switch magic {
	case sformat.MagicTrieV2:
		hdr, err := parseTrieHeader(data)
		if err != nil {
			mm.Unmap()
			f.Close()
			return nil, err
		}
		if hdr.withChecksum {
			if err := checksum.Verify(data); err != nil {
				mm.Unmap()
				f.Close()
				return nil, err
			}
		}
		eng, err := newTrieEngine(data, hdr)
		if err != nil {
			mm.Unmap()
			f.Close()
			return nil, err
		}
		r.buildType, r.valueEncoding, r.eng = hdr.buildType, hdr.valueEncoding, eng
	case sformat.MagicHashV1:
		hdr, err := parseHashHeader(data)
		if err != nil {
			mm.Unmap()
			f.Close()
			return nil, err
		}
		if hdr.withChecksum {
			if err := checksum.Verify(data); err != nil {
				mm.Unmap()
				f.Close()
				return nil, err
			}
		}
		eng, err := newHashEngine(data, hdr)
		if err != nil {
			mm.Unmap()
			f.Close()
			return nil, err
		}
		r.buildType, r.valueEncoding, r.eng = hdr.buildType, hdr.valueEncoding, eng
	default:
		mm.Unmap()
		f.Close()
		return nil, fmt.Errorf("scdbreader: unrecognized magic %q: %w", magic, errs.UnsupportedFormat)
	}

	return r, nil
}

func prefault(data []byte) {
	const pageSize = 4096
	var sink byte
	for i := 0; i < len(data); i += pageSize {
		sink += data[i]
	}
	_ = sink
}

// Exist reports whether key was written to the artifact. The empty key was
// never accepted by any writer, so it always reports false.
func (r *Reader) Exist(key []byte) bool {
	if len(key) == 0 {
		return false
	}
	return r.eng.exist(key)
}

// Get returns the value associated with key. It reports ok=false for a
// missing key, for the empty key, and for any artifact built in Set mode
// (which carries no values at all).
func (r *Reader) Get(key []byte) ([]byte, bool) {
	if len(key) == 0 {
		return nil, false
	}
	if r.buildType == sformat.Set {
		r.logger.WithField("key", string(key)).Warn("get on a set-mode artifact")
		return nil, false
	}
	v, ok, err := r.eng.get(key)
	if err != nil {
		r.logger.WithError(err).WithField("key", string(key)).Warn("get failed")
		return nil, false
	}
	return v, ok
}

// GetAsString is Get with the result converted to a string.
func (r *Reader) GetAsString(key []byte) (string, bool) {
	v, ok := r.Get(key)
	if !ok {
		return "", false
	}
	return string(v), true
}

// PrefixGet returns every stored key starting with prefix, each exactly
// once, up to limit entries (0 meaning unbounded), paired with its value in
// Map mode. It is supported only by the trie variant; calling it against a
// hash-indexed artifact fails with errs.InvalidOperation.
func (r *Reader) PrefixGet(prefix []byte, limit int) ([]Entry, error) {
	return r.eng.prefixGet(prefix, limit)
}

// BuildType reports whether the artifact was built in Map or Set mode.
func (r *Reader) BuildType() sformat.BuildType { return r.buildType }

// ValueEncoding reports how values are stored, meaningless in Set mode.
func (r *Reader) ValueEncoding() sformat.ValueEncoding { return r.valueEncoding }

// Stats returns introspection on the open artifact.
func (r *Reader) Stats() Stats { return r.eng.stats() }

// MemReport returns a hierarchical byte-size breakdown of the open
// artifact's segments (key trie, PForDelta image, value data or value
// trie, or per-length hash tables).
func (r *Reader) MemReport() memreport.MemReport { return r.eng.memReport() }

// Close unmaps the file and releases its descriptor. Calling Close more
// than once is a no-op. Any query after Close is undefined.
func (r *Reader) Close() error {
	if r.closed {
		return nil
	}
	r.closed = true
	if err := r.mm.Unmap(); err != nil {
		r.file.Close()
		return fmt.Errorf("scdbreader: unmap: %w", errs.IoError)
	}
	if err := r.file.Close(); err != nil {
		return fmt.Errorf("scdbreader: close: %w", errs.IoError)
	}
	return nil
}

// --- header parsing -------------------------------------------------------

type trieLength struct {
	L        int
	dataBase int64
}

type trieHeader struct {
	valueEncoding sformat.ValueEncoding
	buildType     sformat.BuildType
	withChecksum  bool
	lengths       []trieLength
	maxKeyLength  int
	pfdOffset     int32
	keyTrieOffset int32
	dataOffset    int64
}

func parseTrieHeader(data []byte) (trieHeader, error) {
	var h trieHeader
	r := ioutil2.NewReader(bytes.NewReader(data))

	magic := make([]byte, sformat.MagicLen)
	if err := r.ReadBytes(magic); err != nil {
		return h, err
	}
	if string(magic) != sformat.MagicTrieV2 {
		return h, fmt.Errorf("scdbreader: expected trie magic, got %q: %w", magic, errs.UnsupportedFormat)
	}
	if _, err := r.ReadInt64(); err != nil { // timestamp, not surfaced
		return h, err
	}
	ve, err := r.ReadUint8()
	if err != nil {
		return h, err
	}
	h.valueEncoding = sformat.ValueEncoding(ve)
	bt, err := r.ReadUint8()
	if err != nil {
		return h, err
	}
	h.buildType = sformat.BuildType(bt)
	if h.withChecksum, err = r.ReadBool(); err != nil {
		return h, err
	}

	includeLengths := h.buildType == sformat.Map && h.valueEncoding != sformat.DFA
	if includeLengths {
		numLengths, err := r.ReadInt32()
		if err != nil {
			return h, err
		}
		maxKeyLength, err := r.ReadInt32()
		if err != nil {
			return h, err
		}
		h.maxKeyLength = int(maxKeyLength)
		for i := int32(0); i < numLengths; i++ {
			L, err := r.ReadInt32()
			if err != nil {
				return h, err
			}
			base, err := r.ReadInt64()
			if err != nil {
				return h, err
			}
			h.lengths = append(h.lengths, trieLength{L: int(L), dataBase: base})
		}
	}

	if h.pfdOffset, err = r.ReadInt32(); err != nil {
		return h, err
	}
	if h.keyTrieOffset, err = r.ReadInt32(); err != nil {
		return h, err
	}
	if h.dataOffset, err = r.ReadInt64(); err != nil {
		return h, err
	}

	if err := checkOffset32(h.pfdOffset, len(data)); err != nil {
		return h, err
	}
	if err := checkOffset32(h.keyTrieOffset, len(data)); err != nil {
		return h, err
	}
	if err := checkOffset64(h.dataOffset, len(data)); err != nil {
		return h, err
	}
	for _, l := range h.lengths {
		if err := checkOffset64(l.dataBase, len(data)); err != nil {
			return h, err
		}
	}
	return h, nil
}

type hashLength struct {
	L, keyCount, slots, slotSize int
	indexBase, dataBase          int64
}

type hashHeader struct {
	loadFactor    float64
	valueEncoding sformat.ValueEncoding
	buildType     sformat.BuildType
	withChecksum  bool
	numKeys       int
	lengths       []hashLength
	maxKeyLength  int
	indexOffset   int32
	dataOffset    int64
}

func parseHashHeader(data []byte) (hashHeader, error) {
	var h hashHeader
	r := ioutil2.NewReader(bytes.NewReader(data))

	magic := make([]byte, sformat.MagicLen)
	if err := r.ReadBytes(magic); err != nil {
		return h, err
	}
	if string(magic) != sformat.MagicHashV1 {
		return h, fmt.Errorf("scdbreader: expected hash magic, got %q: %w", magic, errs.UnsupportedFormat)
	}
	if _, err := r.ReadInt64(); err != nil { // timestamp, not surfaced
		return h, err
	}
	lfBits, err := r.ReadUint64()
	if err != nil {
		return h, err
	}
	h.loadFactor = math.Float64frombits(lfBits)

	ve, err := r.ReadUint8()
	if err != nil {
		return h, err
	}
	h.valueEncoding = sformat.ValueEncoding(ve)
	bt, err := r.ReadUint8()
	if err != nil {
		return h, err
	}
	h.buildType = sformat.BuildType(bt)
	if h.withChecksum, err = r.ReadBool(); err != nil {
		return h, err
	}

	numKeys, err := r.ReadInt32()
	if err != nil {
		return h, err
	}
	h.numKeys = int(numKeys)
	numLengths, err := r.ReadInt32()
	if err != nil {
		return h, err
	}
	maxKeyLength, err := r.ReadInt32()
	if err != nil {
		return h, err
	}
	h.maxKeyLength = int(maxKeyLength)

	for i := int32(0); i < numLengths; i++ {
		L, err := r.ReadInt32()
		if err != nil {
			return h, err
		}
		keyCount, err := r.ReadInt32()
		if err != nil {
			return h, err
		}
		slots, err := r.ReadInt32()
		if err != nil {
			return h, err
		}
		slotSize, err := r.ReadInt32()
		if err != nil {
			return h, err
		}
		indexBase, err := r.ReadInt64()
		if err != nil {
			return h, err
		}
		dataBase, err := r.ReadInt64()
		if err != nil {
			return h, err
		}
		h.lengths = append(h.lengths, hashLength{
			L: int(L), keyCount: int(keyCount), slots: int(slots), slotSize: int(slotSize),
			indexBase: indexBase, dataBase: dataBase,
		})
	}

	if h.indexOffset, err = r.ReadInt32(); err != nil {
		return h, err
	}
	if h.dataOffset, err = r.ReadInt64(); err != nil {
		return h, err
	}

	if err := checkOffset32(h.indexOffset, len(data)); err != nil {
		return h, err
	}
	if err := checkOffset64(h.dataOffset, len(data)); err != nil {
		return h, err
	}
	for _, l := range h.lengths {
		if err := checkOffset64(l.indexBase, len(data)); err != nil {
			return h, err
		}
		end := l.indexBase + int64(l.slots)*int64(l.slotSize)
		if end > int64(len(data)) {
			return h, fmt.Errorf("scdbreader: index table for length %d exceeds file: %w", l.L, errs.MalformedData)
		}
		if h.buildType == sformat.Map {
			if err := checkOffset64(l.dataBase, len(data)); err != nil {
				return h, err
			}
		}
	}
	return h, nil
}

func checkOffset32(off int32, n int) error {
	if off < 0 || int(off) > n {
		return fmt.Errorf("scdbreader: offset %d out of range [0,%d]: %w", off, n, errs.MalformedData)
	}
	return nil
}

func checkOffset64(off int64, n int) error {
	if off < 0 || off > int64(n) {
		return fmt.Errorf("scdbreader: offset %d out of range [0,%d]: %w", off, n, errs.MalformedData)
	}
	return nil
}

// readFramedValue decodes the varint(len)||bytes framing shared by both
// variants' value segments, applying snappy decompression when enc calls
// for it.
func readFramedValue(data []byte, pos int64, enc sformat.ValueEncoding) ([]byte, bool, error) {
	if pos < 0 || pos >= int64(len(data)) {
		return nil, false, fmt.Errorf("scdbreader: value offset out of range: %w", errs.MalformedData)
	}
	n, consumed, err := varint.Get(data[pos:])
	if err != nil {
		return nil, false, err
	}
	start := pos + int64(consumed)
	end := start + int64(n)
	if end > int64(len(data)) {
		return nil, false, fmt.Errorf("scdbreader: value extends past end of file: %w", errs.MalformedData)
	}
	raw := data[start:end]
	if enc == sformat.Snappy {
		dec, err := snappy.Decode(nil, raw)
		if err != nil {
			return nil, false, fmt.Errorf("scdbreader: snappy decode: %w", errs.MalformedData)
		}
		return dec, true, nil
	}
	return append([]byte{}, raw...), true, nil
}

// --- trie engine -----------------------------------------------------------

type trieEngine struct {
	buildType     sformat.BuildType
	valueEncoding sformat.ValueEncoding
	keyTrie       *sctrie.Trie
	valueTrie     *sctrie.Trie
	pfd           *pfordelta.PForDelta
	data          []byte
	dataBaseByLen map[int]int64

	dataOffset   int64
	fileSize     int
	withChecksum bool
}

func newTrieEngine(data []byte, hdr trieHeader) (*trieEngine, error) {
	keyTrie, _, err := sctrie.Map(data[hdr.keyTrieOffset:])
	if err != nil {
		return nil, err
	}

	e := &trieEngine{
		buildType:     hdr.buildType,
		valueEncoding: hdr.valueEncoding,
		keyTrie:       keyTrie,
		data:          data,
		dataBaseByLen: make(map[int]int64, len(hdr.lengths)),
		dataOffset:    hdr.dataOffset,
		fileSize:      len(data),
		withChecksum:  hdr.withChecksum,
	}

	if hdr.buildType != sformat.Map {
		return e, nil
	}

	pfd, _, err := pfordelta.Deserialize(data[hdr.pfdOffset:])
	if err != nil {
		return nil, err
	}
	e.pfd = pfd

	if hdr.valueEncoding == sformat.DFA {
		valueTrie, _, err := sctrie.Map(data[hdr.dataOffset:])
		if err != nil {
			return nil, err
		}
		e.valueTrie = valueTrie
		return e, nil
	}

	for _, l := range hdr.lengths {
		e.dataBaseByLen[l.L] = l.dataBase
	}
	return e, nil
}

func (e *trieEngine) exist(key []byte) bool {
	found, _ := e.keyTrie.Lookup(key)
	return found
}

func (e *trieEngine) get(key []byte) ([]byte, bool, error) {
	found, id := e.keyTrie.Lookup(key)
	if !found {
		return nil, false, nil
	}
	if e.buildType == sformat.Set {
		return nil, true, nil
	}
	return e.resolveValue(id, len(key))
}

func (e *trieEngine) resolveValue(id, keyLen int) ([]byte, bool, error) {
	if e.valueEncoding == sformat.DFA {
		vid := e.pfd.Extract(id)
		v, err := e.valueTrie.ReverseLookup(int(vid))
		if err != nil {
			return nil, false, err
		}
		return v, true, nil
	}
	off := e.pfd.Extract(id)
	if off == 0 {
		return []byte{}, true, nil
	}
	base, ok := e.dataBaseByLen[keyLen]
	if !ok {
		return nil, false, fmt.Errorf("scdbreader: no data segment for key length %d: %w", keyLen, errs.MalformedData)
	}
	return readFramedValue(e.data, base+int64(off), e.valueEncoding)
}

func (e *trieEngine) prefixGet(prefix []byte, limit int) ([]Entry, error) {
	hits := e.keyTrie.PredictiveSearch(prefix, limit)
	out := make([]Entry, 0, len(hits))
	for _, hit := range hits {
		entry := Entry{Key: hit.Key}
		if e.buildType == sformat.Map {
			v, ok, err := e.resolveValue(hit.ID, len(hit.Key))
			if err != nil {
				return nil, err
			}
			if ok {
				entry.Value = v
			}
		}
		out = append(out, entry)
	}
	return out, nil
}

func (e *trieEngine) stats() Stats {
	return Stats{
		Format:        "trie",
		BuildType:     e.buildType.String(),
		ValueEncoding: e.valueEncoding.String(),
		NumKeys:       e.keyTrie.NumKeys(),
	}
}

func (e *trieEngine) memReport() memreport.MemReport {
	children := []memreport.MemReport{
		memreport.Leaf("key-trie", e.keyTrie.ByteSize()),
	}
	if e.pfd != nil {
		children = append(children, memreport.Leaf("pfordelta", e.pfd.ByteSize()))
	}
	if e.valueEncoding == sformat.DFA && e.valueTrie != nil {
		children = append(children, memreport.Leaf("value-trie", e.valueTrie.ByteSize()))
	} else if e.buildType == sformat.Map {
		tail := e.fileSize - int(e.dataOffset)
		if e.withChecksum {
			tail -= checksum.Size
		}
		if tail < 0 {
			tail = 0
		}
		children = append(children, memreport.Leaf("value-data", tail))
	}
	return memreport.Sum("trie-artifact", children...)
}

// --- hash engine -----------------------------------------------------------

type hashEngine struct {
	buildType     sformat.BuildType
	valueEncoding sformat.ValueEncoding
	data          []byte
	byLength      map[int]hashLength
	numKeys       int

	dataOffset   int64
	fileSize     int
	withChecksum bool
}

func newHashEngine(data []byte, hdr hashHeader) (*hashEngine, error) {
	byLength := make(map[int]hashLength, len(hdr.lengths))
	for _, l := range hdr.lengths {
		byLength[l.L] = l
	}
	return &hashEngine{
		buildType:     hdr.buildType,
		valueEncoding: hdr.valueEncoding,
		data:          data,
		byLength:      byLength,
		numKeys:       hdr.numKeys,
		dataOffset:    hdr.dataOffset,
		fileSize:      len(data),
		withChecksum:  hdr.withChecksum,
	}, nil
}

// slot performs the same linear probe the writer used to place key,
// returning the occupied slot's raw bytes. Because the artifact is
// build-once with no deletions, the first empty slot conclusively means the
// key is absent.
func (e *hashEngine) slot(key []byte) ([]byte, bool) {
	ent, ok := e.byLength[len(key)]
	if !ok {
		return nil, false
	}
	hash := xxh3.Hash(key)
	for probe := 0; probe < ent.slots; probe++ {
		idx := int((hash + uint64(probe)) % uint64(ent.slots))
		base := ent.indexBase + int64(idx)*int64(ent.slotSize)
		slotBytes := e.data[base : base+int64(ent.slotSize)]
		keyBytes := slotBytes[:len(key)]
		offset, _, err := varint.Get(slotBytes[len(key):])
		if err != nil || offset == 0 {
			return nil, false
		}
		if bytes.Equal(keyBytes, key) {
			return slotBytes, true
		}
	}
	return nil, false
}

func (e *hashEngine) exist(key []byte) bool {
	_, ok := e.slot(key)
	return ok
}

func (e *hashEngine) get(key []byte) ([]byte, bool, error) {
	slotBytes, ok := e.slot(key)
	if !ok {
		return nil, false, nil
	}
	if e.buildType == sformat.Set {
		return nil, true, nil
	}
	offset, _, err := varint.Get(slotBytes[len(key):])
	if err != nil {
		return nil, false, err
	}
	if offset == 0 {
		return []byte{}, true, nil
	}
	ent := e.byLength[len(key)]
	return readFramedValue(e.data, ent.dataBase+int64(offset), e.valueEncoding)
}

func (e *hashEngine) prefixGet(prefix []byte, limit int) ([]Entry, error) {
	return nil, fmt.Errorf("scdbreader: prefix queries are trie-only: %w", errs.InvalidOperation)
}

func (e *hashEngine) stats() Stats {
	return Stats{
		Format:        "hash",
		BuildType:     e.buildType.String(),
		ValueEncoding: e.valueEncoding.String(),
		NumKeys:       e.numKeys,
	}
}

func (e *hashEngine) memReport() memreport.MemReport {
	indexChildren := make([]memreport.MemReport, 0, len(e.byLength))
	for _, l := range e.byLength {
		name := fmt.Sprintf("len-%d", l.L)
		indexChildren = append(indexChildren, memreport.Leaf(name, l.slots*l.slotSize))
	}
	children := []memreport.MemReport{memreport.Sum("index", indexChildren...)}
	if e.buildType == sformat.Map {
		tail := e.fileSize - int(e.dataOffset)
		if e.withChecksum {
			tail -= checksum.Size
		}
		if tail < 0 {
			tail = 0
		}
		children = append(children, memreport.Leaf("value-data", tail))
	}
	return memreport.Sum("hash-artifact", children...)
}
