// Copyright 2025 The ChapaUY Authors
// SPDX-License-Identifier: Apache-2.0

package feature

import (
	"slices"
	"sort"

	"github.com/rotisserie/eris"
)

// Matrix is a read-only CSR matrix of uint8 values. The last column is the
// label: 1 when the pair denotes the same station.
type Matrix struct {
	rows, cols int
	indices    *fileList // uint32 column per stored value
	data       *fileList // uint8 value
	indptr     *fileList // uint64 row start offsets, rows+1 entries
}

// Rows returns the number of rows.
func (m *Matrix) Rows() int {
	return m.rows
}

// Cols returns the number of columns, including the label column.
func (m *Matrix) Cols() int {
	return m.cols
}

// NNZ returns the number of stored values.
func (m *Matrix) NNZ() int {
	return m.data.len()
}

func (m *Matrix) span(r int) (int, int) {
	return int(m.indptr.at(r)), int(m.indptr.at(r + 1))
}

// Value returns the value at row r and column c; zero when not stored.
func (m *Matrix) Value(r, c int) uint8 {
	lo, hi := m.span(r)

	i := lo + sort.Search(hi-lo, func(i int) bool {
		return int(m.indices.at(lo+i)) >= c
	})
	if i < hi && int(m.indices.at(i)) == c {
		return uint8(m.data.at(i))
	}

	return 0
}

// Each calls fn for every stored value of row r in column order.
func (m *Matrix) Each(r int, fn func(col int, v uint8)) {
	lo, hi := m.span(r)
	for i := lo; i < hi; i++ {
		fn(int(m.indices.at(i)), uint8(m.data.at(i)))
	}
}

// Dense returns row r without the label column.
func (m *Matrix) Dense(r int) []uint8 {
	out := make([]uint8, m.cols-1)

	m.Each(r, func(col int, v uint8) {
		if col < len(out) {
			out[col] = v
		}
	})

	return out
}

// Label reports whether row r is a matching pair.
func (m *Matrix) Label(r int) bool {
	return m.Value(r, m.cols-1) != 0
}

// Labels returns the label of every row.
func (m *Matrix) Labels() []bool {
	out := make([]bool, m.rows)
	for r := range out {
		out[r] = m.Label(r)
	}

	return out
}

// Close unmaps and removes the backing files.
func (m *Matrix) Close() error {
	var first error

	for _, l := range []*fileList{m.indices, m.data, m.indptr} {
		if err := l.close(); err != nil && first == nil {
			first = err
		}
	}

	return first
}

// rowBuffer holds encoded rows in memory before they reach the matrix
// files.
type rowBuffer struct {
	cols  []uint32
	vals  []uint8
	ends  []int
	start int
}

func (b *rowBuffer) put(col int, v uint8) {
	b.cols = append(b.cols, uint32(col))
	b.vals = append(b.vals, v)
}

// endRow closes the current row, ordering its values by column.
func (b *rowBuffer) endRow() {
	row := rowSorter{cols: b.cols[b.start:], vals: b.vals[b.start:]}
	if !slices.IsSorted(row.cols) {
		sort.Sort(row)
	}

	b.start = len(b.cols)
	b.ends = append(b.ends, b.start)
}

func (b *rowBuffer) rows() int {
	return len(b.ends)
}

// dense returns row i as a dense vector of width n, ignoring columns
// beyond it.
func (b *rowBuffer) dense(i, n int) []uint8 {
	lo := 0
	if i > 0 {
		lo = b.ends[i-1]
	}

	out := make([]uint8, n)
	for k := lo; k < b.ends[i]; k++ {
		if c := int(b.cols[k]); c < n {
			out[c] = b.vals[k]
		}
	}

	return out
}

type rowSorter struct {
	cols []uint32
	vals []uint8
}

func (s rowSorter) Len() int           { return len(s.cols) }
func (s rowSorter) Less(i, j int) bool { return s.cols[i] < s.cols[j] }
func (s rowSorter) Swap(i, j int) {
	s.cols[i], s.cols[j] = s.cols[j], s.cols[i]
	s.vals[i], s.vals[j] = s.vals[j], s.vals[i]
}

// matrixWriter appends rows to the three backing files. It has a single
// writer; buffers are appended in the order they are passed.
type matrixWriter struct {
	indices *fileList
	data    *fileList
	indptr  *fileList
	nnz     uint64
	rows    int
}

func newMatrixWriter(dir string) (*matrixWriter, error) {
	w := &matrixWriter{}

	var err error

	if w.indices, err = newFileList(dir, "indices", 4); err != nil {
		return nil, err
	}

	if w.data, err = newFileList(dir, "data", 1); err != nil {
		w.abort()

		return nil, err
	}

	if w.indptr, err = newFileList(dir, "indptr", 8); err != nil {
		w.abort()

		return nil, err
	}

	if err := w.indptr.append(0); err != nil {
		w.abort()

		return nil, err
	}

	return w, nil
}

func (w *matrixWriter) write(b *rowBuffer) error {
	for i := range b.cols {
		if err := w.indices.append(uint64(b.cols[i])); err != nil {
			return err
		}

		if err := w.data.append(uint64(b.vals[i])); err != nil {
			return err
		}
	}

	for _, end := range b.ends {
		if err := w.indptr.append(w.nnz + uint64(end)); err != nil {
			return err
		}
	}

	w.nnz += uint64(len(b.cols))
	w.rows += len(b.ends)

	return nil
}

func (w *matrixWriter) finish(cols int) (*Matrix, error) {
	for _, l := range []*fileList{w.indices, w.data, w.indptr} {
		if err := l.finish(); err != nil {
			w.abort()

			return nil, err
		}
	}

	if w.indptr.len() != w.rows+1 {
		w.abort()

		return nil, eris.Errorf("feature: %d row pointers for %d rows", w.indptr.len(), w.rows)
	}

	return &Matrix{
		rows:    w.rows,
		cols:    cols,
		indices: w.indices,
		data:    w.data,
		indptr:  w.indptr,
	}, nil
}

func (w *matrixWriter) abort() {
	for _, l := range []*fileList{w.indices, w.data, w.indptr} {
		if l != nil {
			_ = l.close()
		}
	}
}
