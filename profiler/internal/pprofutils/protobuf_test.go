// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2021 Datadog, Inc.

package pprofutils

import (
	"bytes"
	"strings"
	"testing"

	"github.com/matryer/is"
)

func TestProtobufConvert(t *testing.T) {
	t.Run("sorts by descending value", func(t *testing.T) {
		is := is.New(t)
		textIn := strings.TrimSpace(`
main;foo 19
main;bar 7
main;baz 3
`)
		proto, err := Text{}.Convert(strings.NewReader(textIn))
		is.NoErr(err)

		out := bytes.Buffer{}
		is.NoErr(Protobuf{}.Convert(proto, &out))
		is.Equal(out.String(), textIn+"\n")
	})

	t.Run("reorders an unsorted profile", func(t *testing.T) {
		is := is.New(t)
		textIn := strings.TrimSpace(`
main;baz 3
main;foo 19
main;bar 7
`)
		proto, err := Text{}.Convert(strings.NewReader(textIn))
		is.NoErr(err)

		out := bytes.Buffer{}
		is.NoErr(Protobuf{}.Convert(proto, &out))
		want := strings.TrimSpace(`
main;foo 19
main;bar 7
main;baz 3
`) + "\n"
		is.Equal(out.String(), want)
	})
}
