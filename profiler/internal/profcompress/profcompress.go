// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016 Datadog, Inc.

// Package profcompress recompresses a serialized profile from whatever
// compression the recorder produced into whatever compression the
// exporter wants to transmit, streaming through a decompress/recompress
// pipe rather than buffering the whole profile in memory when the two
// ends disagree on codec.
package profcompress

import (
	"fmt"
	"io"

	kgzip "github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
)

// Algorithm identifies a compression codec.
type Algorithm int

const (
	AlgorithmNone Algorithm = iota
	AlgorithmGzip
	AlgorithmZstd
)

func (a Algorithm) String() string {
	switch a {
	case AlgorithmGzip:
		return "gzip"
	case AlgorithmZstd:
		return "zstd"
	default:
		return "none"
	}
}

// Compression names one specific codec configuration: an algorithm plus
// an algorithm-specific level (gzip's 1..9, or a zstd preset key into
// Levels).
type Compression struct {
	Algorithm Algorithm
	Level     int
}

func (c Compression) String() string {
	if c.Algorithm == AlgorithmNone {
		return "none"
	}
	return fmt.Sprintf("%s-%d", c.Algorithm, c.Level)
}

var (
	None  = Compression{Algorithm: AlgorithmNone}
	Gzip1 = Compression{Algorithm: AlgorithmGzip, Level: 1}
	Gzip6 = Compression{Algorithm: AlgorithmGzip, Level: 6}
	Zstd  = Compression{Algorithm: AlgorithmZstd, Level: 3}
)

// Levels maps a Compression's zstd Level to the zstd package's own
// encoder-level enum. An unrecognized level falls back to
// zstd.SpeedDefault.
var Levels = map[int]zstd.EncoderLevel{
	1: zstd.SpeedFastest,
	2: zstd.SpeedDefault,
	3: zstd.SpeedBetterCompression,
	4: zstd.SpeedBestCompression,
}

func zstdLevel(level int) zstd.EncoderLevel {
	if l, ok := Levels[level]; ok {
		return l
	}
	return zstd.SpeedDefault
}

// Pipeline is a resettable compressing writer: a caller calls Reset once
// per profile window and streams the pprof bytes through Write/Close.
// Recorder.Serialize does not use it; its output is uncompressed.
type Pipeline interface {
	Reset(w io.Writer)
	io.WriteCloser
}

// NewPipeline returns a Pipeline that accepts data compressed with in and
// emits it compressed with out.
func NewPipeline(in, out Compression) (Pipeline, error) {
	if in == out {
		return &passthroughPipeline{}, nil
	}
	if in.Algorithm == AlgorithmNone {
		return newCompressPipeline(out)
	}
	if out.Algorithm == AlgorithmNone {
		return nil, fmt.Errorf("profcompress: decompressing %s to uncompressed output is not supported", in)
	}
	return newRecompressPipeline(in, out)
}

// passthroughPipeline copies writes straight to the reset target,
// avoiding a decompress/recompress round trip when in and out already
// agree.
type passthroughPipeline struct {
	w io.Writer
}

func (p *passthroughPipeline) Reset(w io.Writer)        { p.w = w }
func (p *passthroughPipeline) Write(b []byte) (int, error) { return p.w.Write(b) }
func (p *passthroughPipeline) Close() error                { return nil }

// newCompressPipeline returns a Pipeline that compresses raw bytes with
// the given codec, used when the input is uncompressed.
func newCompressPipeline(out Compression) (Pipeline, error) {
	switch out.Algorithm {
	case AlgorithmGzip:
		gw, err := kgzip.NewWriterLevel(io.Discard, out.Level)
		if err != nil {
			return nil, err
		}
		return &gzipPipeline{gw: gw}, nil
	case AlgorithmZstd:
		return newZstdRecompressor(zstdLevel(out.Level))
	default:
		return nil, fmt.Errorf("profcompress: unsupported output compression %s", out)
	}
}

type gzipPipeline struct {
	gw *kgzip.Writer
}

func (g *gzipPipeline) Reset(w io.Writer)        { g.gw.Reset(w) }
func (g *gzipPipeline) Write(b []byte) (int, error) { return g.gw.Write(b) }
func (g *gzipPipeline) Close() error                { return g.gw.Close() }

type zstdPipeline struct {
	zw *zstd.Encoder
}

// newZstdRecompressor returns a Pipeline writing zstd-compressed output
// at the given encoder level.
func newZstdRecompressor(level zstd.EncoderLevel) (Pipeline, error) {
	zw, err := zstd.NewWriter(io.Discard, zstd.WithEncoderLevel(level))
	if err != nil {
		return nil, err
	}
	return &zstdPipeline{zw: zw}, nil
}

func (z *zstdPipeline) Reset(w io.Writer) { z.zw.Reset(w) }
func (z *zstdPipeline) Write(b []byte) (int, error) { return z.zw.Write(b) }
func (z *zstdPipeline) Close() error                { return z.zw.Close() }

// recompressPipeline decodes data compressed with in as it is written,
// piping the decompressed stream into a fresh out-compressor. Close
// blocks until the background goroutine has finished draining the pipe
// and flushed the output compressor.
type recompressPipeline struct {
	in  Compression
	out Compression
	pw  *io.PipeWriter
	done chan error
}

func newRecompressPipeline(in, out Compression) (Pipeline, error) {
	switch in.Algorithm {
	case AlgorithmGzip, AlgorithmZstd:
	default:
		return nil, fmt.Errorf("profcompress: unsupported input compression %s", in)
	}
	switch out.Algorithm {
	case AlgorithmGzip, AlgorithmZstd:
	default:
		return nil, fmt.Errorf("profcompress: unsupported output compression %s", out)
	}
	return &recompressPipeline{in: in, out: out}, nil
}

func (p *recompressPipeline) Reset(w io.Writer) {
	pr, pw := io.Pipe()
	p.pw = pw
	done := make(chan error, 1)
	p.done = done

	go func() {
		done <- p.drain(pr, w)
	}()
}

func (p *recompressPipeline) drain(pr *io.PipeReader, w io.Writer) error {
	var src io.Reader
	switch p.in.Algorithm {
	case AlgorithmGzip:
		gr, err := kgzip.NewReader(pr)
		if err != nil {
			pr.CloseWithError(err)
			return err
		}
		defer gr.Close()
		src = gr
	case AlgorithmZstd:
		zr, err := zstd.NewReader(pr)
		if err != nil {
			pr.CloseWithError(err)
			return err
		}
		defer zr.Close()
		src = zr
	}

	dst, err := newCompressPipeline(p.out)
	if err != nil {
		return err
	}
	dst.Reset(w)

	if _, err := io.Copy(dst, src); err != nil {
		return err
	}
	return dst.Close()
}

func (p *recompressPipeline) Write(b []byte) (int, error) { return p.pw.Write(b) }

func (p *recompressPipeline) Close() error {
	if err := p.pw.Close(); err != nil {
		return err
	}
	return <-p.done
}
