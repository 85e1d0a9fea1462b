// Package checkpoint parses the two on-disk checkpoint formats (plain
// float32 and group-quantized int8) into a ready-to-use model.Model,
// wiring each weight tensor to either a materialized float32 slice or a
// lazy weights.Handle depending on how large and how often-read it is.
package checkpoint

import (
	"encoding/binary"
	"fmt"

	"github.com/tejas242/vellum/internal/model"
	"github.com/tejas242/vellum/internal/tokenizer"
	"github.com/tejas242/vellum/internal/vellumerr"
	"github.com/tejas242/vellum/internal/weights"
)

// magicV2 identifies the 256-byte int8-grouped header; any file not
// starting with this magic is treated as a v1 plain-float checkpoint.
const magicV2 = 0x616b3432

// Options configures how a checkpoint and its tokenizer are opened.
type Options struct {
	CheckpointPath string
	TokenizerPath  string

	AccessMode weights.AccessMode
	CacheLimit int64  // AccessReadCache only
	Address    []byte // AccessAddress only: caller-owned checkpoint image

	MaxSessions int
	Name        string
}

// Load opens the checkpoint at opts.CheckpointPath, detects its version
// from the leading magic bytes, and builds a fully validated model.Model
// backed by opts.TokenizerPath's vocabulary.
func Load(opts Options) (*model.Model, error) {
	src, err := openSource(opts)
	if err != nil {
		return nil, err
	}

	magicBytes, err := src.Resolve(0, 4)
	if err != nil {
		src.Close()
		return nil, err
	}

	var (
		cfg model.Config
		w   model.Weights
	)
	if binary.LittleEndian.Uint32(magicBytes) == magicV2 {
		cfg, w, err = loadV2(src)
	} else {
		cfg, w, err = loadV1(src)
	}
	if err != nil {
		src.Close()
		return nil, err
	}

	vocab, err := tokenizer.Load(opts.TokenizerPath, cfg.VocabSize)
	if err != nil {
		src.Close()
		return nil, err
	}

	return &model.Model{
		Config:      cfg,
		W:           w,
		Vocab:       vocab,
		Source:      src,
		MaxSessions: opts.MaxSessions,
		Name:        opts.Name,
	}, nil
}

func openSource(opts Options) (*weights.Source, error) {
	switch opts.AccessMode {
	case weights.AccessMMap:
		return weights.NewMMap(opts.CheckpointPath)
	case weights.AccessAddress:
		return weights.NewAddress(opts.Address), nil
	case weights.AccessReadCache:
		return weights.NewReadCache(opts.CheckpointPath, opts.CacheLimit)
	default:
		return nil, vellumerr.New(vellumerr.ConfigInvalid, "checkpoint.Load",
			fmt.Errorf("unknown access mode %d", opts.AccessMode))
	}
}

// takeFloats reads n float32 values starting at *off and advances *off past
// them. Used for the small, eagerly materialized norm-weight blocks.
func takeFloats(src *weights.Source, off *int64, n int) ([]float32, error) {
	v, err := src.ResolveFloats(*off, n)
	if err != nil {
		return nil, err
	}
	*off += int64(n) * 4
	return v, nil
}

// takeFloatHandle carves out a lazily-resolved float32 tensor of shape
// (rows, cols) at *off and advances *off past it.
func takeFloatHandle(off *int64, rows, cols int) weights.Handle {
	h := weights.Handle{Rows: rows, Cols: cols, FloatOffset: *off}
	*off += int64(rows*cols) * 4
	return h
}

// takeQuantHandle carves out a lazily-resolved int8-grouped tensor of shape
// (rows, cols) at *off — q[] followed immediately by s[] — and advances
// *off past both.
func takeQuantHandle(off *int64, rows, cols, groupSize int) weights.Handle {
	size := rows * cols
	h := weights.Handle{Int8: true, Rows: rows, Cols: cols, GroupSize: groupSize, QOffset: *off}
	*off += int64(size)
	h.SOffset = *off
	*off += int64(size/groupSize) * 4
	return h
}
