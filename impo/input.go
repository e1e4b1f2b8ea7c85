// Copyright 2025 The ChapaUY Authors
// SPDX-License-Identifier: Apache-2.0

// Package impo reads the inputs of a run: station corpora in JSON and
// files of labelled station pairs.
package impo

import (
	"bufio"
	"compress/gzip"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/jcodagnone/statsimi/feature"
	"github.com/jcodagnone/statsimi/station"
	"github.com/rotisserie/eris"
)

// InputType is the kind of an input file.
type InputType int

const (
	// TypeCorpus is a JSON station corpus.
	TypeCorpus InputType = iota + 1
	// TypePairs is a tab separated file of labelled pairs.
	TypePairs
)

func (t InputType) String() string {
	switch t {
	case TypeCorpus:
		return "corpus"
	case TypePairs:
		return "pairs"
	default:
		return "unknown"
	}
}

// pairColumns is the number of columns of a pairs file line.
const pairColumns = 9

// Combines multiple closers to ensure all resources are released.
type multiReadCloser struct {
	io.ReadCloser
	underlying io.Closer
}

func (r *multiReadCloser) Close() error {
	return errors.Join(
		r.ReadCloser.Close(),
		r.underlying.Close(),
	)
}

// open returns the content of path, transparently decompressing .gz
// files.
func open(path string) (io.ReadCloser, error) {
	f, err := os.Open(filepath.Clean(path))
	if err != nil {
		return nil, eris.Wrapf(err, "impo: opening %s", path)
	}

	if !strings.HasSuffix(path, ".gz") {
		return f, nil
	}

	gr, err := gzip.NewReader(f)
	if err != nil {
		err1 := f.Close()

		return nil, errors.Join(eris.Wrapf(err, "impo: creating gzip reader for %s", path), err1)
	}

	return &multiReadCloser{gr, f}, nil
}

// DetectType tells a pairs file, whose first line has nine tab separated
// columns, from a corpus.
func DetectType(path string) (InputType, error) {
	r, err := open(path)
	if err != nil {
		return 0, err
	}
	defer r.Close()

	line, err := bufio.NewReader(r).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return 0, eris.Wrapf(err, "impo: reading %s", path)
	}

	if len(strings.Split(strings.TrimRight(line, "\r\n"), "\t")) == pairColumns {
		return TypePairs, nil
	}

	return TypeCorpus, nil
}

// Inputs is the loaded content of one or more input files of the same
// type. Pairs is only set for pairs files; their stations all belong to
// a single orphan group.
type Inputs struct {
	Type   InputType
	Corpus *station.Corpus
	Pairs  []feature.Pair
}

// LoadInputs detects the type of every path and loads them together.
// Mixing corpora and pairs files is a *feature.ConfigError, reported
// before any file is parsed.
func LoadInputs(paths []string) (*Inputs, error) {
	if len(paths) == 0 {
		return nil, &feature.ConfigError{
			Kind:    feature.ErrorKindInvalidOption,
			Message: "no input files",
		}
	}

	var typ InputType

	for _, path := range paths {
		t, err := DetectType(path)
		if err != nil {
			return nil, err
		}

		if typ != 0 && t != typ {
			return nil, &feature.ConfigError{
				Kind:    feature.ErrorKindMixedInputs,
				Message: fmt.Sprintf("cannot mix %s and %s input files (%s)", typ, t, path),
			}
		}

		typ = t
	}

	in := &Inputs{Type: typ, Corpus: station.NewCorpus()}
	pl := newPairsLoader(in.Corpus)

	for _, path := range paths {
		r, err := open(path)
		if err != nil {
			return nil, err
		}

		if typ == TypePairs {
			err = pl.load(r, path)
		} else {
			err = ReadCorpus(r, in.Corpus)
		}

		cerr := r.Close()
		if err != nil {
			return nil, eris.Wrapf(err, "impo: loading %s", path)
		}

		if cerr != nil {
			return nil, eris.Wrapf(cerr, "impo: closing %s", path)
		}
	}

	in.Pairs = pl.pairs

	return in, nil
}
