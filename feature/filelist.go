// Copyright 2025 The ChapaUY Authors
// SPDX-License-Identifier: Apache-2.0

package feature

import (
	"bufio"
	"encoding/binary"
	"os"

	"github.com/rotisserie/eris"
)

const fileListBuffer = 4 << 20

// fileList is an append-only array of fixed width little-endian unsigned
// integers backed by a temporary file. After finish the contents are
// mapped read-only.
type fileList struct {
	f     *os.File
	w     *bufio.Writer
	width int
	n     int

	data  []byte
	unmap func() error
}

func newFileList(dir, suffix string, width int) (*fileList, error) {
	f, err := os.CreateTemp(dir, "statsimi-*."+suffix)
	if err != nil {
		return nil, eris.Wrap(err, "feature: creating matrix file")
	}

	return &fileList{f: f, w: bufio.NewWriterSize(f, fileListBuffer), width: width}, nil
}

func (l *fileList) append(v uint64) error {
	var buf [8]byte

	binary.LittleEndian.PutUint64(buf[:], v)

	if _, err := l.w.Write(buf[:l.width]); err != nil {
		return eris.Wrapf(err, "feature: writing %s", l.f.Name())
	}

	l.n++

	return nil
}

func (l *fileList) len() int {
	return l.n
}

func (l *fileList) finish() error {
	if err := l.w.Flush(); err != nil {
		return eris.Wrapf(err, "feature: flushing %s", l.f.Name())
	}

	data, unmap, err := mapFile(l.f, l.n*l.width)
	if err != nil {
		return eris.Wrapf(err, "feature: mapping %s", l.f.Name())
	}

	l.data, l.unmap = data, unmap

	return nil
}

func (l *fileList) at(i int) uint64 {
	off := i * l.width

	switch l.width {
	case 1:
		return uint64(l.data[off])
	case 4:
		return uint64(binary.LittleEndian.Uint32(l.data[off:]))
	default:
		return binary.LittleEndian.Uint64(l.data[off:])
	}
}

// close releases the mapping and removes the backing file.
func (l *fileList) close() error {
	var errs []error

	if l.unmap != nil {
		errs = append(errs, l.unmap())
		l.unmap = nil
	}

	l.data = nil

	if l.f != nil {
		errs = append(errs, l.f.Close(), os.Remove(l.f.Name()))
		l.f = nil
	}

	for _, err := range errs {
		if err != nil {
			return eris.Wrap(err, "feature: closing matrix file")
		}
	}

	return nil
}
