// Copyright 2023 The ssht Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

package ssht

import (
	"bufio"
	"fmt"
	"io"
	"os"
)

// Record is a single key/value pair produced by a DataReader.  A nil Key
// signals a malformed or exhausted stream.  KEY_SET builds ignore Val.
type Record struct {
	Key []byte
	Val []byte
}

// DataReader supplies records to builds.  Builders call Reset before each
// pass over a stream and read exactly Total records per pass, so Total must
// be exact for variable-value builds (their second pass replays the stream
// to emit value bytes).  The Key and Val slices only need to stay valid
// until the next Read call.
type DataReader interface {
	// Reset restarts the stream from its beginning.
	Reset()
	// Total returns the number of records in the stream.
	Total() uint64
	// Read returns the next record.  When keyOnly is set the caller
	// will not look at Val.  A nil Key reports a malformed stream.
	Read(keyOnly bool) Record
}

// DataWriter is the sink a build writes the artifact to.  Writes are
// contiguous appends.
type DataWriter interface {
	io.Writer
	Flush() error
}

// FileWriter is a buffered DataWriter backed by a file.
type FileWriter struct {
	f *os.File
	w *bufio.Writer
}

var _ DataWriter = (*FileWriter)(nil)

// NewFileWriter creates (or truncates) the file at path.
func NewFileWriter(path string) (*FileWriter, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("os.Create(%s): %w", path, err)
	}
	return &FileWriter{
		f: f,
		w: bufio.NewWriterSize(f, defaultBufferSize),
	}, nil
}

func (w *FileWriter) Write(p []byte) (int, error) {
	return w.w.Write(p)
}

// Flush pushes buffered bytes to the file.
func (w *FileWriter) Flush() error {
	return w.w.Flush()
}

// Close flushes, syncs and closes the file.
func (w *FileWriter) Close() error {
	if err := w.w.Flush(); err != nil {
		_ = w.f.Close()
		return fmt.Errorf("bufio.Flush: %w", err)
	}
	if err := w.f.Sync(); err != nil {
		_ = w.f.Close()
		return fmt.Errorf("f.Sync: %w", err)
	}
	return w.f.Close()
}
