package hub

import (
	"io"

	"github.com/blockvault/hub/herr"
)

// meteredReader is the streaming upload monitor, spec.md §4.6: a
// pass-through reader that counts bytes per chunk and, once the running
// total exceeds cap, destroys the source (stops reading from it and
// returns an error) rather than let the driver write a truncated-but-
// oversized object. Because io.Reader is pull-based, the driver's own
// upload loop *is* the pipeline; there is nothing further to race against
// -- the first Read that would exceed cap both aborts the source and
// surfaces payloadTooLarge to whatever is consuming the reader.
type meteredReader struct {
	src   io.Reader
	cap   int64
	total int64
	err   error
}

func newMeteredReader(src io.Reader, cap int64) *meteredReader {
	return &meteredReader{src: src, cap: cap}
}

func (m *meteredReader) Read(p []byte) (int, error) {
	if m.err != nil {
		return 0, m.err
	}
	n, err := m.src.Read(p)
	if n > 0 {
		m.total += int64(n)
		if m.total > m.cap {
			m.err = herr.PayloadTooLarge("upload exceeded %d bytes", m.cap)
			if rc, ok := m.src.(io.Closer); ok {
				_ = rc.Close()
			}
			return 0, m.err
		}
	}
	if err != nil {
		if err == io.EOF {
			return n, io.EOF
		}
		m.err = err
		return n, err
	}
	return n, nil
}

// uploadCap implements spec.md §4.6's cap formula: the client-reported
// content-length when it is a positive, finite value not exceeding max;
// otherwise the configured max.
func uploadCap(contentLength, max int64) int64 {
	if contentLength > 0 && contentLength <= max {
		return contentLength
	}
	return max
}
