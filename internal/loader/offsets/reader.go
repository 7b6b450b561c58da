package offsets

import (
	"encoding/json"
	"io"
	"os"

	"github.com/pkg/errors"

	"github.com/zhichao-aws/opensearch-semantic-benchmarks-sample/internal/common/loaderrors"
)

// Reader gives random access to the lines of a corpus through its offset index.
// It is safe for concurrent use since all reads go through ReadAt.
type Reader struct {
	file  *os.File
	index Index
	size  int64
}

// Open opens the corpus for reading by line number.
func Open(corpusPath string, index Index) (*Reader, error) {
	f, err := os.Open(corpusPath)
	if err != nil {
		return nil, errors.WithStack(&loaderrors.ErrCorpusRead{Path: corpusPath, Cause: err})
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, errors.WithStack(&loaderrors.ErrCorpusRead{Path: corpusPath, Cause: err})
	}
	return &Reader{
		file:  f,
		index: index,
		size:  info.Size(),
	}, nil
}

// Len returns the number of lines in the corpus.
func (r *Reader) Len() int {
	return len(r.index)
}

// ReadLine returns line i without its line terminator. The line must hold a valid JSON document.
func (r *Reader) ReadLine(i int) (json.RawMessage, error) {
	if i < 0 || i >= len(r.index) {
		return nil, errors.WithStack(&loaderrors.ErrLineRead{Line: i, Offset: -1, Message: "line index out of range"})
	}
	start := r.index[i]
	end := r.size
	if i+1 < len(r.index) {
		end = r.index[i+1]
	}
	if start > end || end > r.size {
		return nil, errors.WithStack(&loaderrors.ErrLineRead{Line: i, Offset: start, Message: "offset beyond end of corpus"})
	}

	buf := make([]byte, end-start)
	if _, err := r.file.ReadAt(buf, start); err != nil && err != io.EOF {
		return nil, errors.WithStack(&loaderrors.ErrLineRead{Line: i, Offset: start, Message: "read failed", Cause: err})
	}
	buf = trimLineTerminator(buf)
	if !json.Valid(buf) {
		return nil, errors.WithStack(&loaderrors.ErrLineRead{Line: i, Offset: start, Message: "invalid JSON"})
	}
	return buf, nil
}

func (r *Reader) Close() error {
	return r.file.Close()
}

func trimLineTerminator(b []byte) []byte {
	if n := len(b); n > 0 && b[n-1] == '\n' {
		b = b[:n-1]
	}
	if n := len(b); n > 0 && b[n-1] == '\r' {
		b = b[:n-1]
	}
	return b
}
