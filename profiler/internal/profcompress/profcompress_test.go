// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016 Datadog, Inc.

package profcompress

import (
	"bytes"
	"fmt"
	"io"
	"testing"

	kgzip "github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/stretchr/testify/require"
)

func TestNewPipeline(t *testing.T) {
	plainData := []byte("hello world")
	gzip1Data := compressData(t, plainData, Gzip1)
	gzip6Data := compressData(t, plainData, Gzip6)
	zstdData := compressData(t, plainData, Zstd)

	tests := []struct {
		in, out    Compression
		data, want []byte
	}{
		{None, Gzip1, plainData, gzip1Data},
		{None, Gzip6, plainData, gzip6Data},
		{None, Zstd, plainData, zstdData},
		{None, None, plainData, plainData},
		{Gzip1, Gzip1, gzip1Data, gzip1Data},
		{Gzip6, Gzip6, gzip6Data, gzip6Data},
		{Gzip1, Zstd, gzip1Data, zstdData},
		{Gzip6, Zstd, gzip6Data, zstdData},
	}

	for _, test := range tests {
		t.Run(fmt.Sprintf("%s->%s", test.in, test.out), func(t *testing.T) {
			pipeline, err := NewPipeline(test.in, test.out)
			require.NoError(t, err)
			buf := &bytes.Buffer{}
			pipeline.Reset(buf)
			_, err = pipeline.Write(test.data)
			require.NoError(t, err)
			require.NoError(t, pipeline.Close())
			require.Equal(t, test.want, buf.Bytes())
		})
	}
}

func compressData(t *testing.T, data []byte, c Compression) []byte {
	t.Helper()
	buf := &bytes.Buffer{}
	switch c.Algorithm {
	case AlgorithmGzip:
		gw, err := kgzip.NewWriterLevel(buf, c.Level)
		require.NoError(t, err)
		_, err = gw.Write(data)
		require.NoError(t, err)
		require.NoError(t, gw.Close())
	case AlgorithmZstd:
		zw, err := zstd.NewWriter(buf, zstd.WithEncoderLevel(zstdLevel(c.Level)))
		require.NoError(t, err)
		_, err = zw.Write(data)
		require.NoError(t, err)
		require.NoError(t, zw.Close())
	default:
		t.Fatalf("unsupported compression algorithm: %s", c.Algorithm)
	}
	return buf.Bytes()
}

func TestPassthroughNoCompressionRoundTrip(t *testing.T) {
	pipeline, err := NewPipeline(None, None)
	require.NoError(t, err)
	buf := &bytes.Buffer{}
	pipeline.Reset(buf)
	_, err = io.WriteString(pipeline, "abc")
	require.NoError(t, err)
	require.NoError(t, pipeline.Close())
	require.Equal(t, "abc", buf.String())
}
