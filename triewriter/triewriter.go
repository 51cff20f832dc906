// Package triewriter builds the trie-indexed artifact: it accumulates
// keys (and, in Map mode, values), streams values per key-length with
// adjacent-duplicate coalescing, and on Close drives the succinct trie
// and PForDelta codecs to emit the SCDBV2. artifact.
package triewriter

import (
	"bytes"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/golang/snappy"
	"github.com/sirupsen/logrus"

	"github.com/robbinfan/cloud-scdb/checksum"
	"github.com/robbinfan/cloud-scdb/errs"
	"github.com/robbinfan/cloud-scdb/ioutil2"
	"github.com/robbinfan/cloud-scdb/pfordelta"
	"github.com/robbinfan/cloud-scdb/sctrie"
	"github.com/robbinfan/cloud-scdb/sformat"
	"github.com/robbinfan/cloud-scdb/varint"
)

// Options configures a Writer. Build via New's variadic Option list, the
// same functional-options shape rsdic.New() and its siblings use.
type Options struct {
	checksum bool
	logger   *logrus.Logger
}

// Option mutates Options.
type Option func(*Options)

// WithChecksum requests a trailing whole-file digest.
func WithChecksum() Option { return func(o *Options) { o.checksum = true } }

// WithLogger overrides the default discard logger.
func WithLogger(l *logrus.Logger) Option { return func(o *Options) { o.logger = l } }

func defaultOptions() Options {
	l := logrus.New()
	l.SetOutput(logDiscard{})
	return Options{logger: l}
}

type logDiscard struct{}

func (logDiscard) Write(p []byte) (int, error) { return len(p), nil }

type lengthState struct {
	tmpFile   *os.File
	w         *ioutil2.Writer
	dataLen   uint64
	keyCount  int
	lastValue []byte
	lastLen   uint64
	hasLast   bool
}

// Writer accumulates Put/PutKV calls and, on Close, emits a trie-indexed
// artifact. It is single-use: construct, call Put or PutKV any number of
// times, then Close exactly once (subsequent Close calls are no-ops).
type Writer struct {
	opts          Options
	tmpDir        string
	buildType     sformat.BuildType
	valueEncoding sformat.ValueEncoding

	keySeen    map[string]bool
	keyOffsets map[string]uint64 // None/Snappy map mode
	valueByKey map[string][]byte // DFA map mode
	allValues  [][]byte          // DFA map mode, trie build input

	lengths map[int]*lengthState

	closed bool
}

// New constructs a Writer for the given build type and (Map-mode only)
// value encoding. tmpDir holds the per-length scratch streams used during
// accumulation; it must be writable and is not modified after Close.
func New(tmpDir string, buildType sformat.BuildType, valueEncoding sformat.ValueEncoding, opts ...Option) (*Writer, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	if buildType == sformat.Set {
		valueEncoding = sformat.None
	}
	return &Writer{
		opts:          o,
		tmpDir:        tmpDir,
		buildType:     buildType,
		valueEncoding: valueEncoding,
		keySeen:       make(map[string]bool),
		keyOffsets:    make(map[string]uint64),
		valueByKey:    make(map[string][]byte),
		lengths:       make(map[int]*lengthState),
	}, nil
}

// Put inserts a key with no associated value (Set mode).
func (w *Writer) Put(key []byte) error {
	if w.buildType != sformat.Set {
		return fmt.Errorf("triewriter: Put requires set mode: %w", errs.InvalidOperation)
	}
	if len(key) == 0 {
		return nil
	}
	w.recordKey(key)
	return nil
}

// PutKV inserts a key with an associated value (Map mode).
func (w *Writer) PutKV(key, value []byte) error {
	if w.buildType != sformat.Map {
		return fmt.Errorf("triewriter: PutKV requires map mode: %w", errs.InvalidOperation)
	}
	if len(key) == 0 {
		return nil
	}
	if w.keySeen[string(key)] {
		w.opts.logger.WithField("key", string(key)).Warn("duplicate key inserted")
	}
	w.recordKey(key)

	if w.valueEncoding == sformat.DFA {
		w.valueByKey[string(key)] = append([]byte{}, value...)
		w.allValues = append(w.allValues, append([]byte{}, value...))
		return nil
	}
	return w.putLengthValue(key, value)
}

func (w *Writer) recordKey(key []byte) {
	w.keySeen[string(key)] = true
}

func (w *Writer) putLengthValue(key, value []byte) error {
	L := len(key)
	ls, err := w.lengthStateFor(L)
	if err != nil {
		return err
	}

	var offset uint64
	if ls.hasLast && bytes.Equal(ls.lastValue, value) {
		offset = ls.dataLen - ls.lastLen
	} else {
		encoded := value
		if w.valueEncoding == sformat.Snappy {
			encoded = snappy.Encode(nil, value)
		}
		var lb [varint.MaxLen]byte
		lenBytes := varint.Put(lb[:0], uint64(len(encoded)))
		if err := ls.w.WriteBytes(lenBytes); err != nil {
			return err
		}
		if err := ls.w.WriteBytes(encoded); err != nil {
			return err
		}
		written := uint64(len(lenBytes) + len(encoded))
		offset = ls.dataLen
		ls.dataLen += written
		ls.lastValue = append(ls.lastValue[:0], value...)
		ls.lastLen = written
		ls.hasLast = true
	}
	ls.keyCount++
	w.keyOffsets[string(key)] = offset
	return nil
}

func (w *Writer) lengthStateFor(L int) (*lengthState, error) {
	if ls, ok := w.lengths[L]; ok {
		return ls, nil
	}
	f, err := ioutil2.TempFile(w.tmpDir, fmt.Sprintf("scdb-data-%d-", L))
	if err != nil {
		return nil, err
	}
	ls := &lengthState{tmpFile: f, w: ioutil2.NewWriter(f)}
	// The value segment reserves offset 0 to mean "no value written", so
	// it begins with one sentinel byte.
	if err := ls.w.WriteBytes([]byte{0}); err != nil {
		return nil, err
	}
	ls.dataLen = 1
	w.lengths[L] = ls
	return ls, nil
}

// Close finalizes the artifact at outPath. It is idempotent: a second call
// returns nil without performing further I/O.
func (w *Writer) Close(outPath string) error {
	if w.closed {
		return nil
	}
	w.closed = true
	defer w.cleanupTemp()

	for _, ls := range w.lengths {
		if err := ls.w.Flush(); err != nil {
			return err
		}
	}

	keys := make([][]byte, 0, len(w.keySeen))
	for k := range w.keySeen {
		keys = append(keys, []byte(k))
	}
	buildRes, err := sctrie.Build(keys)
	if err != nil {
		return err
	}
	trie := buildRes.Trie
	if buildRes.Duplicates > 0 {
		w.opts.logger.WithField("count", buildRes.Duplicates).Warn("duplicate keys coalesced")
	}
	keyTrieBytes := trie.Save()

	var pfdBytes, dataBytes, valueTrieBytes []byte
	var lengthList []int
	dataBaseRel := map[int]uint64{}

	switch {
	case w.buildType == sformat.Set:
		// no value segment, no PForDelta.
	case w.valueEncoding == sformat.DFA:
		valueRes, err := sctrie.Build(w.allValues)
		if err != nil {
			return err
		}
		valueTrie := valueRes.Trie
		vec := make([]uint64, trie.NumKeys())
		for id := 0; id < trie.NumKeys(); id++ {
			k, err := trie.ReverseLookup(id)
			if err != nil {
				return err
			}
			v := w.valueByKey[string(k)]
			_, vid := valueTrie.Lookup(v)
			vec[id] = uint64(vid)
		}
		pfdBytes = pfordelta.Encode(vec).Serialize(nil)
		valueTrieBytes = valueTrie.Save()
	default:
		vec := make([]uint64, trie.NumKeys())
		for id := 0; id < trie.NumKeys(); id++ {
			k, err := trie.ReverseLookup(id)
			if err != nil {
				return err
			}
			vec[id] = w.keyOffsets[string(k)]
		}
		pfdBytes = pfordelta.Encode(vec).Serialize(nil)

		for L := range w.lengths {
			lengthList = append(lengthList, L)
		}
		sort.Ints(lengthList)
		var buf bytes.Buffer
		for _, L := range lengthList {
			ls := w.lengths[L]
			dataBaseRel[L] = uint64(buf.Len())
			raw, err := os.ReadFile(ls.tmpFile.Name())
			if err != nil {
				return fmt.Errorf("triewriter: read length stream: %w", errs.IoError)
			}
			buf.Write(raw)
		}
		dataBytes = buf.Bytes()
	}

	maxKeyLength := 0
	for L := range w.lengths {
		if L > maxKeyLength {
			maxKeyLength = L
		}
	}

	headerLen := sformat.MagicLen + 8 /*timestamp*/ + 1 + 1 + 1 /*options*/
	includeLengths := w.buildType == sformat.Map && w.valueEncoding != sformat.DFA
	if includeLengths {
		headerLen += 4 + 4 + len(lengthList)*(4+8)
	}
	headerLen += 4 + 4 + 8 // pfd_offset, key_trie_offset, data_offset

	pfdOffset := int64(headerLen)
	keyTrieOffset := pfdOffset + int64(len(pfdBytes))
	dataOffset := keyTrieOffset + int64(len(keyTrieBytes))

	var hdr bytes.Buffer
	hw := ioutil2.NewWriter(&hdr)
	magic := sformat.MagicTrieV2
	if err := hw.WriteBytes([]byte(magic)); err != nil {
		return err
	}
	if err := hw.WriteInt64(time.Now().UnixMicro()); err != nil {
		return err
	}
	if err := hw.WriteUint8(uint8(w.valueEncoding)); err != nil {
		return err
	}
	if err := hw.WriteUint8(uint8(w.buildType)); err != nil {
		return err
	}
	if err := hw.WriteBool(w.opts.checksum); err != nil {
		return err
	}
	if includeLengths {
		if err := hw.WriteInt32(int32(len(lengthList))); err != nil {
			return err
		}
		if err := hw.WriteInt32(int32(maxKeyLength)); err != nil {
			return err
		}
		for _, L := range lengthList {
			if err := hw.WriteInt32(int32(L)); err != nil {
				return err
			}
			if err := hw.WriteInt64(int64(dataOffset) + int64(dataBaseRel[L])); err != nil {
				return err
			}
		}
	}
	if err := hw.WriteInt32(int32(pfdOffset)); err != nil {
		return err
	}
	if err := hw.WriteInt32(int32(keyTrieOffset)); err != nil {
		return err
	}
	if err := hw.WriteInt64(dataOffset); err != nil {
		return err
	}
	if err := hw.Flush(); err != nil {
		return err
	}

	final := make([]byte, 0, int(dataOffset)+len(dataBytes)+len(valueTrieBytes)+checksum.Size)
	final = append(final, hdr.Bytes()...)
	final = append(final, pfdBytes...)
	final = append(final, keyTrieBytes...)
	if w.valueEncoding == sformat.DFA {
		final = append(final, valueTrieBytes...)
	} else {
		final = append(final, dataBytes...)
	}
	if w.opts.checksum {
		final = checksum.Append(final)
	}

	return ioutil2.AtomicWriteFile(outPath, final)
}

func (w *Writer) cleanupTemp() {
	for _, ls := range w.lengths {
		name := ls.tmpFile.Name()
		ls.tmpFile.Close()
		os.Remove(name)
	}
}
