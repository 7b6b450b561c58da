// Package offsets builds and loads the offset index of a JSONL corpus.
//
// The index holds the byte position of the first byte of every line of the corpus, which gives
// constant time access to any line without reading the corpus into memory. It is persisted next to
// the corpus in a sidecar file holding one decimal offset per line and is reused on later runs.
package offsets

import (
	"bufio"
	"bytes"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"github.com/zhichao-aws/opensearch-semantic-benchmarks-sample/internal/common/loaderrors"
	"github.com/zhichao-aws/opensearch-semantic-benchmarks-sample/internal/common/util"
)

const (
	CorpusSuffix  = ".jsonl"
	SidecarSuffix = ".offset"

	scanBufferSize = 1 << 20
)

// Index holds offset[i], the byte position of line i of the corpus.
type Index []int64

// SidecarPath returns the path of the offset sidecar for the given corpus: data.jsonl maps to data.offset.
func SidecarPath(corpusPath string) string {
	return strings.TrimSuffix(corpusPath, CorpusSuffix) + SidecarSuffix
}

// Build scans the corpus once, recording the offset of every line, and persists the result to the sidecar.
// A final line without a trailing newline still counts as a line.
func Build(corpusPath string) (Index, error) {
	f, err := os.Open(corpusPath)
	if err != nil {
		return nil, errors.WithStack(&loaderrors.ErrCorpusRead{Path: corpusPath, Cause: err})
	}
	defer util.CloseResource(corpusPath, f)

	index, err := scan(f)
	if err != nil {
		return nil, errors.WithStack(&loaderrors.ErrCorpusRead{Path: corpusPath, Cause: err})
	}

	if err := Write(SidecarPath(corpusPath), index); err != nil {
		return nil, err
	}
	return index, nil
}

func scan(r io.Reader) (Index, error) {
	reader := bufio.NewReaderSize(r, scanBufferSize)
	index := Index{}
	var offset int64
	atLineStart := true
	for {
		// ReadSlice returns ErrBufferFull for lines longer than the buffer; those arrive in several chunks.
		chunk, err := reader.ReadSlice('\n')
		if len(chunk) > 0 {
			if atLineStart {
				index = append(index, offset)
			}
			offset += int64(len(chunk))
			atLineStart = chunk[len(chunk)-1] == '\n'
		}
		switch err {
		case nil, bufio.ErrBufferFull:
		case io.EOF:
			return index, nil
		default:
			return nil, err
		}
	}
}

// Write persists the index to path, one decimal offset per line.
// The file is written to a temporary file first and renamed into place so that readers never see a partial index.
func Write(path string, index Index) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".tmp-*")
	if err != nil {
		return errors.Wrapf(err, "creating temporary offset file for %s", path)
	}
	defer os.Remove(tmp.Name())

	w := bufio.NewWriter(tmp)
	buf := make([]byte, 0, 20)
	for _, offset := range index {
		buf = strconv.AppendInt(buf[:0], offset, 10)
		buf = append(buf, '\n')
		if _, err := w.Write(buf); err != nil {
			tmp.Close()
			return errors.Wrapf(err, "writing offset file %s", path)
		}
	}
	if err := w.Flush(); err != nil {
		tmp.Close()
		return errors.Wrapf(err, "writing offset file %s", path)
	}
	if err := tmp.Close(); err != nil {
		return errors.Wrapf(err, "closing offset file %s", path)
	}
	return errors.Wrapf(os.Rename(tmp.Name(), path), "renaming offset file into %s", path)
}

// Load reads an index previously written by Write.
func Load(sidecarPath string) (Index, error) {
	data, err := os.ReadFile(sidecarPath)
	if err != nil {
		return nil, errors.Wrapf(err, "reading offset file %s", sidecarPath)
	}
	return Parse(sidecarPath, data)
}

// Parse decodes sidecar contents. Anything other than a strictly increasing sequence of non-negative
// integers starting at zero, each terminated by a newline, is reported as ErrIndexCorrupt.
func Parse(sidecarPath string, data []byte) (Index, error) {
	if len(data) == 0 {
		return Index{}, nil
	}
	if data[len(data)-1] != '\n' {
		return nil, errors.WithStack(&loaderrors.ErrIndexCorrupt{Path: sidecarPath, Message: "missing trailing newline, file is truncated"})
	}

	lines := bytes.Split(data[:len(data)-1], []byte{'\n'})
	index := make(Index, len(lines))
	for i, line := range lines {
		offset, err := strconv.ParseInt(string(bytes.TrimSpace(line)), 10, 64)
		if err != nil {
			return nil, errors.WithStack(&loaderrors.ErrIndexCorrupt{Path: sidecarPath, Line: i + 1, Message: "not an integer"})
		}
		switch {
		case i == 0 && offset != 0:
			return nil, errors.WithStack(&loaderrors.ErrIndexCorrupt{Path: sidecarPath, Line: i + 1, Message: "first offset must be 0"})
		case i > 0 && offset <= index[i-1]:
			return nil, errors.WithStack(&loaderrors.ErrIndexCorrupt{Path: sidecarPath, Line: i + 1, Message: "offsets must be strictly increasing"})
		}
		index[i] = offset
	}
	return index, nil
}

// LoadOrBuild loads the sidecar of the corpus if present and builds it otherwise.
// The returned bool reports whether the index was built by this call.
func LoadOrBuild(corpusPath string) (Index, bool, error) {
	sidecarPath := SidecarPath(corpusPath)
	if _, err := os.Stat(sidecarPath); err == nil {
		index, err := Load(sidecarPath)
		return index, false, err
	} else if !os.IsNotExist(err) {
		return nil, false, errors.Wrapf(err, "checking offset file %s", sidecarPath)
	}
	index, err := Build(corpusPath)
	return index, true, err
}

// Validate checks that the index fits the corpus it claims to describe.
func Validate(index Index, corpusPath string) error {
	info, err := os.Stat(corpusPath)
	if err != nil {
		return errors.WithStack(&loaderrors.ErrCorpusRead{Path: corpusPath, Cause: err})
	}
	sidecarPath := SidecarPath(corpusPath)
	if len(index) == 0 {
		if info.Size() > 0 {
			return errors.WithStack(&loaderrors.ErrIndexCorrupt{Path: sidecarPath, Message: "index is empty but corpus is not"})
		}
		return nil
	}
	last := index[len(index)-1]
	if last >= info.Size() {
		return errors.WithStack(&loaderrors.ErrIndexCorrupt{
			Path:    sidecarPath,
			Line:    len(index),
			Message: "offset " + strconv.FormatInt(last, 10) + " is beyond the end of the corpus",
		})
	}

	// The last indexed line must also be the last line of the corpus, otherwise the index is truncated.
	f, err := os.Open(corpusPath)
	if err != nil {
		return errors.WithStack(&loaderrors.ErrCorpusRead{Path: corpusPath, Cause: err})
	}
	defer util.CloseResource(corpusPath, f)
	end, err := lineEnd(io.NewSectionReader(f, last, info.Size()-last))
	if err != nil {
		return errors.WithStack(&loaderrors.ErrCorpusRead{Path: corpusPath, Cause: err})
	}
	if remaining := info.Size() - last - end; remaining > 0 {
		return errors.WithStack(&loaderrors.ErrIndexCorrupt{
			Path:    sidecarPath,
			Line:    len(index),
			Message: strconv.FormatInt(remaining, 10) + " byte(s) of the corpus follow the last indexed line",
		})
	}
	return nil
}

// lineEnd returns the length of the first line of r, including its newline.
func lineEnd(r io.Reader) (int64, error) {
	reader := bufio.NewReaderSize(r, scanBufferSize)
	var n int64
	for {
		chunk, err := reader.ReadSlice('\n')
		n += int64(len(chunk))
		switch err {
		case nil, io.EOF:
			return n, nil
		case bufio.ErrBufferFull:
		default:
			return 0, err
		}
	}
}
