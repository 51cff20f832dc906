// Package scdb is the top-level factory: the single entry point for
// building a writer of either variant and for opening an artifact by
// sniffing its magic. It holds no format knowledge of its own beyond the
// dispatch; the actual read/build logic lives in triewriter, hashwriter
// and scdbreader.
package scdb

import (
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/robbinfan/cloud-scdb/errs"
	"github.com/robbinfan/cloud-scdb/hashwriter"
	"github.com/robbinfan/cloud-scdb/scdbreader"
	"github.com/robbinfan/cloud-scdb/sformat"
	"github.com/robbinfan/cloud-scdb/triewriter"
)

// Format selects which writer variant NewWriter constructs.
type Format int

const (
	// TrieFormat builds a trie index via the sctrie package (SCDBV2.).
	TrieFormat Format = iota
	// HashFormat builds per-key-length open-addressed tables (SCDBV1.).
	HashFormat
)

func (f Format) String() string {
	if f == HashFormat {
		return "hash"
	}
	return "trie"
}

// Writer is the common shape of triewriter.Writer and hashwriter.Writer:
// construct via NewWriter, call Put or PutKV according to build mode any
// number of times, then Close exactly once.
type Writer interface {
	Put(key []byte) error
	PutKV(key, value []byte) error
	Close(outPath string) error
}

type writerOptions struct {
	checksum      bool
	loadFactor    float64
	loadFactorSet bool
	logger        *logrus.Logger
}

// WriterOption mutates the writer construction options.
type WriterOption func(*writerOptions)

// WithChecksum requests a trailing whole-file digest on the finished
// artifact.
func WithChecksum() WriterOption { return func(o *writerOptions) { o.checksum = true } }

// WithLoadFactor overrides the hash variant's default load factor. It has
// no effect on TrieFormat, which carries no hash table.
func WithLoadFactor(f float64) WriterOption {
	return func(o *writerOptions) { o.loadFactor, o.loadFactorSet = f, true }
}

// WithLogger overrides the default discard logger used for build-time
// diagnostics (duplicate-key warnings).
func WithLogger(l *logrus.Logger) WriterOption {
	return func(o *writerOptions) { o.logger = l }
}

// NewWriter constructs a Writer for format, accumulating keys (Set mode) or
// key/value pairs (Map mode) under tmpDir until Close. valueEncoding is
// ignored in Set mode.
func NewWriter(tmpDir string, format Format, buildType sformat.BuildType, valueEncoding sformat.ValueEncoding, opts ...WriterOption) (Writer, error) {
	var wo writerOptions
	for _, o := range opts {
		o(&wo)
	}

	switch format {
	case TrieFormat:
		var topts []triewriter.Option
		if wo.checksum {
			topts = append(topts, triewriter.WithChecksum())
		}
		if wo.logger != nil {
			topts = append(topts, triewriter.WithLogger(wo.logger))
		}
		return triewriter.New(tmpDir, buildType, valueEncoding, topts...)
	case HashFormat:
		var hopts []hashwriter.Option
		if wo.checksum {
			hopts = append(hopts, hashwriter.WithChecksum())
		}
		if wo.loadFactorSet {
			hopts = append(hopts, hashwriter.WithLoadFactor(wo.loadFactor))
		}
		if wo.logger != nil {
			hopts = append(hopts, hashwriter.WithLogger(wo.logger))
		}
		return hashwriter.New(tmpDir, buildType, valueEncoding, hopts...)
	default:
		return nil, fmt.Errorf("scdb: unknown format %d: %w", format, errs.UnsupportedFormat)
	}
}

// Open sniffs the magic of the artifact at path and returns a reader bound
// to whichever variant produced it. Unknown magic surfaces as
// errs.UnsupportedFormat.
func Open(path string, opts ...scdbreader.Option) (*scdbreader.Reader, error) {
	return scdbreader.Open(path, opts...)
}
