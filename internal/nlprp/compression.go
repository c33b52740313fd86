package nlprp

import (
	"bytes"
	"compress/gzip"
	"io"
	"net/http"
)

// gzipEncode compresses a JSON body for a request/response whose
// Content-Encoding will be set to "gzip". Grounded on the teacher's
// pkg/compression/http_compressor.go gzip path, narrowed from that
// package's five-algorithm negotiation to the single codec NLPRP's wire
// contract (spec.md §4.5) actually names.
func gzipEncode(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	w := gzip.NewWriter(&buf)
	if _, err := w.Write(data); err != nil {
		w.Close()
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func gzipDecode(data []byte) ([]byte, error) {
	r, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return io.ReadAll(r)
}

// readRequestBody reads and, if Content-Encoding: gzip is present,
// decompresses an incoming request body.
func readRequestBody(r *http.Request) ([]byte, error) {
	data, err := io.ReadAll(r.Body)
	if err != nil {
		return nil, err
	}
	if r.Header.Get("Content-Encoding") == "gzip" {
		return gzipDecode(data)
	}
	return data, nil
}

// acceptsGzip reports whether the request's Accept-Encoding header
// allows a gzip-compressed response.
func acceptsGzip(r *http.Request) bool {
	for _, enc := range r.Header.Values("Accept-Encoding") {
		if bytes.Contains([]byte(enc), []byte("gzip")) {
			return true
		}
	}
	return false
}
