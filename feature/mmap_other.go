// Copyright 2025 The ChapaUY Authors
// SPDX-License-Identifier: Apache-2.0

//go:build !unix

package feature

import (
	"io"
	"os"
)

func mapFile(f *os.File, size int) ([]byte, func() error, error) {
	data := make([]byte, size)
	if _, err := f.ReadAt(data, 0); err != nil && err != io.EOF {
		return nil, nil, err
	}

	return data, func() error { return nil }, nil
}
