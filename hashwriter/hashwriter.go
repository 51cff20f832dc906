// Package hashwriter builds the hash-indexed artifact: per-length
// open-addressed tables with linear probing, built from temporary
// per-length index/data streams accumulated during Put.
package hashwriter

import (
	"bytes"
	"fmt"
	"math"
	"os"
	"sort"
	"time"

	"github.com/golang/snappy"
	"github.com/sirupsen/logrus"
	"github.com/zeebo/xxh3"

	"github.com/robbinfan/cloud-scdb/checksum"
	"github.com/robbinfan/cloud-scdb/errs"
	"github.com/robbinfan/cloud-scdb/ioutil2"
	"github.com/robbinfan/cloud-scdb/sformat"
	"github.com/robbinfan/cloud-scdb/varint"
)

// setPresenceMarker is the varint value written in place of a value offset
// for Set-mode artifacts, where there is no real offset to store. It is
// chosen as 1, never 0, so the "offset field == 0 means empty slot" probe
// rule from the Map-mode design works unchanged: a Set-mode slot is never
// mistaken for empty once occupied.
const setPresenceMarker = 1

// Options configures a Writer.
type Options struct {
	checksum   bool
	loadFactor float64
	logger     *logrus.Logger
}

// Option mutates Options.
type Option func(*Options)

// WithChecksum requests a trailing whole-file digest.
func WithChecksum() Option { return func(o *Options) { o.checksum = true } }

// WithLoadFactor overrides the default 0.75 load factor. f must be in
// (0, 1); New rejects f outside that range, closing the open question the
// legacy BuildIndex left unresolved (an unbounded load factor can loop
// forever under linear probing).
func WithLoadFactor(f float64) Option { return func(o *Options) { o.loadFactor = f } }

// WithLogger overrides the default discard logger.
func WithLogger(l *logrus.Logger) Option { return func(o *Options) { o.logger = l } }

func defaultOptions() Options {
	l := logrus.New()
	l.SetOutput(logDiscard{})
	return Options{loadFactor: 0.75, logger: l}
}

type logDiscard struct{}

func (logDiscard) Write(p []byte) (int, error) { return len(p), nil }

type lengthState struct {
	idxFile *os.File
	idxW    *ioutil2.Writer
	datFile *os.File
	datW    *ioutil2.Writer

	keyCount       int
	dataLen        uint64
	maxOffsetWidth int
	lastValue      []byte
	lastLen        uint64
	hasLast        bool
}

// Writer accumulates Put calls and, on Close, emits a hash-indexed
// artifact. Single-use, like triewriter.Writer.
type Writer struct {
	opts          Options
	tmpDir        string
	buildType     sformat.BuildType
	valueEncoding sformat.ValueEncoding

	lengths map[int]*lengthState
	numKeys int
	closed  bool
}

// New constructs a Writer. DFA value encoding is trie-variant only and
// not supported by the hash variant; passing it is rejected.
func New(tmpDir string, buildType sformat.BuildType, valueEncoding sformat.ValueEncoding, opts ...Option) (*Writer, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	if o.loadFactor <= 0 || o.loadFactor >= 1 {
		return nil, fmt.Errorf("hashwriter: load factor %v not in (0,1): %w", o.loadFactor, errs.InvalidOperation)
	}
	if buildType == sformat.Set {
		valueEncoding = sformat.None
	}
	if valueEncoding == sformat.DFA {
		return nil, fmt.Errorf("hashwriter: DFA value encoding unsupported: %w", errs.UnsupportedFormat)
	}
	return &Writer{
		opts:          o,
		tmpDir:        tmpDir,
		buildType:     buildType,
		valueEncoding: valueEncoding,
		lengths:       make(map[int]*lengthState),
	}, nil
}

func (w *Writer) lengthStateFor(L int) (*lengthState, error) {
	if ls, ok := w.lengths[L]; ok {
		return ls, nil
	}
	idxFile, err := ioutil2.TempFile(w.tmpDir, fmt.Sprintf("scdb-idx-%d-", L))
	if err != nil {
		return nil, err
	}
	ls := &lengthState{idxFile: idxFile, idxW: ioutil2.NewWriter(idxFile)}
	if w.buildType == sformat.Map {
		datFile, err := ioutil2.TempFile(w.tmpDir, fmt.Sprintf("scdb-dat-%d-", L))
		if err != nil {
			return nil, err
		}
		ls.datFile = datFile
		ls.datW = ioutil2.NewWriter(datFile)
		// Reserve offset 0 to mean "no value written".
		if err := ls.datW.WriteBytes([]byte{0}); err != nil {
			return nil, err
		}
		ls.dataLen = 1
	}
	w.lengths[L] = ls
	return ls, nil
}

// Put inserts a key (Set mode) with no value.
func (w *Writer) Put(key []byte) error {
	if w.buildType != sformat.Set {
		return fmt.Errorf("hashwriter: Put requires set mode: %w", errs.InvalidOperation)
	}
	return w.putCommon(key, setPresenceMarker)
}

// PutKV inserts a key with an associated value (Map mode).
func (w *Writer) PutKV(key, value []byte) error {
	if w.buildType != sformat.Map {
		return fmt.Errorf("hashwriter: PutKV requires map mode: %w", errs.InvalidOperation)
	}
	if len(key) == 0 {
		return nil
	}
	ls, err := w.lengthStateFor(len(key))
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
		if err := ls.datW.WriteBytes(lenBytes); err != nil {
			return err
		}
		if err := ls.datW.WriteBytes(encoded); err != nil {
			return err
		}
		written := uint64(len(lenBytes) + len(encoded))
		offset = ls.dataLen
		ls.dataLen += written
		ls.lastValue = append(ls.lastValue[:0], value...)
		ls.lastLen = written
		ls.hasLast = true
	}
	return w.putCommon(key, offset)
}

func (w *Writer) putCommon(key []byte, offset uint64) error {
	if len(key) == 0 {
		return nil
	}
	ls, err := w.lengthStateFor(len(key))
	if err != nil {
		return err
	}
	if err := ls.idxW.WriteBytes(key); err != nil {
		return err
	}
	var ob [varint.MaxLen]byte
	offBytes := varint.Put(ob[:0], offset)
	if err := ls.idxW.WriteBytes(offBytes); err != nil {
		return err
	}
	if len(offBytes) > ls.maxOffsetWidth {
		ls.maxOffsetWidth = len(offBytes)
	}
	ls.keyCount++
	w.numKeys++
	return nil
}

type slotTable struct {
	L, keyCount, slots, slotSize int
	table                        []byte
}

// buildIndex builds the open-addressed slot table for one key length L.
func (w *Writer) buildIndex(L int, ls *lengthState) (slotTable, error) {
	slots := int(float64(ls.keyCount)/w.opts.loadFactor + 0.5)
	if slots < ls.keyCount+1 {
		slots = ls.keyCount + 1
	}
	slotSize := L + ls.maxOffsetWidth
	table := make([]byte, slots*slotSize)

	if err := ls.idxW.Flush(); err != nil {
		return slotTable{}, err
	}
	raw, err := os.ReadFile(ls.idxFile.Name())
	if err != nil {
		return slotTable{}, fmt.Errorf("hashwriter: read index stream: %w", errs.IoError)
	}

	pos := 0
	for pos < len(raw) {
		if pos+L > len(raw) {
			return slotTable{}, fmt.Errorf("hashwriter: truncated index stream: %w", errs.MalformedData)
		}
		keyBytes := raw[pos : pos+L]
		pos += L
		offset, n, err := varint.Get(raw[pos:])
		if err != nil {
			return slotTable{}, err
		}
		pos += n

		hash := xxh3.Hash(keyBytes)
		placed := false
		for probe := 0; probe < slots; probe++ {
			slot := int((hash + uint64(probe)) % uint64(slots))
			base := slot * slotSize
			existingOffset, _, err := varint.Get(table[base+L : base+slotSize])
			if err != nil {
				return slotTable{}, err
			}
			if existingOffset == 0 {
				copy(table[base:base+L], keyBytes)
				offBytes := varint.PutFixed(nil, offset, slotSize-L)
				copy(table[base+L:base+slotSize], offBytes)
				placed = true
				break
			}
			if bytes.Equal(table[base:base+L], keyBytes) {
				w.opts.logger.WithField("key", string(keyBytes)).Warn("duplicate key discarded")
				placed = true
				break
			}
		}
		if !placed {
			return slotTable{}, fmt.Errorf("hashwriter: table full at length %d: %w", L, errs.InvalidOperation)
		}
	}

	return slotTable{L: L, keyCount: ls.keyCount, slots: slots, slotSize: slotSize, table: table}, nil
}

// Close finalizes the artifact at outPath. Idempotent.
func (w *Writer) Close(outPath string) error {
	if w.closed {
		return nil
	}
	w.closed = true
	defer w.cleanupTemp()

	var lengthList []int
	for L := range w.lengths {
		lengthList = append(lengthList, L)
	}
	sort.Ints(lengthList)

	tables := make(map[int]slotTable, len(lengthList))
	for _, L := range lengthList {
		t, err := w.buildIndex(L, w.lengths[L])
		if err != nil {
			return err
		}
		tables[L] = t
	}

	var indexBuf, dataBuf bytes.Buffer
	indexBase := map[int]uint64{}
	dataBase := map[int]uint64{}
	for _, L := range lengthList {
		indexBase[L] = uint64(indexBuf.Len())
		indexBuf.Write(tables[L].table)
		if w.buildType == sformat.Map {
			dataBase[L] = uint64(dataBuf.Len())
			ls := w.lengths[L]
			if err := ls.datW.Flush(); err != nil {
				return err
			}
			raw, err := os.ReadFile(ls.datFile.Name())
			if err != nil {
				return fmt.Errorf("hashwriter: read data stream: %w", errs.IoError)
			}
			dataBuf.Write(raw)
		}
	}

	maxKeyLength := 0
	for _, L := range lengthList {
		if L > maxKeyLength {
			maxKeyLength = L
		}
	}

	headerLen := sformat.MagicLen + 8 /*timestamp*/ + 8 /*load_factor*/ + 1 + 1 + 1 /*options*/ +
		4 + 4 + 4 /*num_keys, num_key_lengths, max_key_length*/ +
		len(lengthList)*(4+4+4+4+8+8) /*per-length block*/ +
		4 + 8 /*index_offset, data_offset*/

	indexOffset := int64(headerLen)
	dataOffset := indexOffset + int64(indexBuf.Len())

	var hdr bytes.Buffer
	hw := ioutil2.NewWriter(&hdr)
	if err := hw.WriteBytes([]byte(sformat.MagicHashV1)); err != nil {
		return err
	}
	if err := hw.WriteInt64(time.Now().UnixMicro()); err != nil {
		return err
	}
	var lf [8]byte
	putFloat64(lf[:], w.opts.loadFactor)
	if err := hw.WriteBytes(lf[:]); err != nil {
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
	if err := hw.WriteInt32(int32(w.numKeys)); err != nil {
		return err
	}
	if err := hw.WriteInt32(int32(len(lengthList))); err != nil {
		return err
	}
	if err := hw.WriteInt32(int32(maxKeyLength)); err != nil {
		return err
	}
	for _, L := range lengthList {
		t := tables[L]
		if err := hw.WriteInt32(int32(L)); err != nil {
			return err
		}
		if err := hw.WriteInt32(int32(t.keyCount)); err != nil {
			return err
		}
		if err := hw.WriteInt32(int32(t.slots)); err != nil {
			return err
		}
		if err := hw.WriteInt32(int32(t.slotSize)); err != nil {
			return err
		}
		if err := hw.WriteInt64(indexOffset + int64(indexBase[L])); err != nil {
			return err
		}
		db := int64(0)
		if w.buildType == sformat.Map {
			db = dataOffset + int64(dataBase[L])
		}
		if err := hw.WriteInt64(db); err != nil {
			return err
		}
	}
	if err := hw.WriteInt32(int32(indexOffset)); err != nil {
		return err
	}
	if err := hw.WriteInt64(dataOffset); err != nil {
		return err
	}
	if err := hw.Flush(); err != nil {
		return err
	}

	final := make([]byte, 0, int(dataOffset)+dataBuf.Len()+checksum.Size)
	final = append(final, hdr.Bytes()...)
	final = append(final, indexBuf.Bytes()...)
	final = append(final, dataBuf.Bytes()...)
	if w.opts.checksum {
		final = checksum.Append(final)
	}

	return ioutil2.AtomicWriteFile(outPath, final)
}

func (w *Writer) cleanupTemp() {
	for _, ls := range w.lengths {
		name := ls.idxFile.Name()
		ls.idxFile.Close()
		os.Remove(name)
		if ls.datFile != nil {
			dn := ls.datFile.Name()
			ls.datFile.Close()
			os.Remove(dn)
		}
	}
}

func putFloat64(b []byte, f float64) {
	bits := math.Float64bits(f)
	for i := 0; i < 8; i++ {
		b[i] = byte(bits >> (8 * i))
	}
}
