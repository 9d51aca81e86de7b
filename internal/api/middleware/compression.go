// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package middleware

import (
	"compress/gzip"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/andybalholm/brotli"
	"github.com/klauspost/compress/zstd"
)

type encoding int

const (
	encodingNone encoding = iota
	encodingGzip
	encodingBrotli
	encodingZstd
)

func (e encoding) String() string {
	switch e {
	case encodingGzip:
		return "gzip"
	case encodingBrotli:
		return "br"
	case encodingZstd:
		return "zstd"
	default:
		return ""
	}
}

// compressWriter buffers up to minSize bytes before deciding whether the
// response is worth compressing.
type compressWriter struct {
	http.ResponseWriter
	enc     encoding
	level   int
	minSize int

	status  int
	buf     []byte
	out     io.WriteCloser
	decided bool
}

func (w *compressWriter) WriteHeader(code int) {
	if w.status == 0 {
		w.status = code
	}
}

func (w *compressWriter) Write(p []byte) (int, error) {
	if w.status == 0 {
		w.status = http.StatusOK
	}
	if w.decided {
		if w.out != nil {
			return w.out.Write(p)
		}
		return w.ResponseWriter.Write(p)
	}

	w.buf = append(w.buf, p...)
	if len(w.buf) >= w.minSize {
		if err := w.decide(true); err != nil {
			return 0, err
		}
	}
	return len(p), nil
}

func (w *compressWriter) decide(large bool) error {
	w.decided = true

	h := w.Header()
	if large && compressible(h.Get("Content-Type")) && h.Get("Content-Encoding") == "" && w.status != http.StatusNoContent {
		h.Set("Content-Encoding", w.enc.String())
		h.Del("Content-Length")
		w.out = newEncoder(w.enc, w.ResponseWriter, w.level)
	}

	w.ResponseWriter.WriteHeader(w.status)

	buffered := w.buf
	w.buf = nil
	if len(buffered) == 0 {
		return nil
	}
	if w.out != nil {
		_, err := w.out.Write(buffered)
		return err
	}
	_, err := w.ResponseWriter.Write(buffered)
	return err
}

func (w *compressWriter) Flush() {
	if !w.decided {
		_ = w.decide(len(w.buf) >= w.minSize)
	}
	if f, ok := w.out.(interface{ Flush() error }); ok {
		_ = f.Flush()
	}
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (w *compressWriter) finish() error {
	if !w.decided {
		if w.status == 0 {
			return nil
		}
		if err := w.decide(false); err != nil {
			return err
		}
	}
	if w.out != nil {
		return w.out.Close()
	}
	return nil
}

func newEncoder(enc encoding, dst io.Writer, level int) io.WriteCloser {
	switch enc {
	case encodingZstd:
		encoder, err := zstd.NewWriter(dst, zstd.WithEncoderLevel(zstd.EncoderLevelFromZstd(level)))
		if err == nil {
			return encoder
		}
	case encodingBrotli:
		return brotli.NewWriterLevel(dst, level)
	}
	gz, err := gzip.NewWriterLevel(dst, level)
	if err != nil {
		gz = gzip.NewWriter(dst)
	}
	return gz
}

func compressible(contentType string) bool {
	return strings.HasPrefix(contentType, "text/") ||
		strings.Contains(contentType, "json") ||
		strings.Contains(contentType, "javascript")
}

// negotiate picks zstd, then brotli, then gzip among the encodings the client
// accepts with a non-zero quality.
func negotiate(acceptEncoding string) encoding {
	accepted := map[string]bool{}
	for _, part := range strings.Split(acceptEncoding, ",") {
		name, params, _ := strings.Cut(strings.TrimSpace(part), ";")
		name = strings.ToLower(strings.TrimSpace(name))
		if name == "" {
			continue
		}
		q := 1.0
		if v, ok := strings.CutPrefix(strings.TrimSpace(params), "q="); ok {
			if parsed, err := strconv.ParseFloat(v, 64); err == nil {
				q = parsed
			}
		}
		accepted[name] = q > 0
	}

	if accepted["*"] {
		return encodingGzip
	}
	switch {
	case accepted["zstd"]:
		return encodingZstd
	case accepted["br"]:
		return encodingBrotli
	case accepted["gzip"]:
		return encodingGzip
	default:
		return encodingNone
	}
}

// SelectiveCompress compresses JSON and text responses of at least minSize
// bytes with the best encoding the client accepts.
func SelectiveCompress(minSize, level int) func(http.Handler) http.Handler {
	level = max(1, min(level, 9))
	if minSize < 0 {
		minSize = 1024
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			enc := negotiate(r.Header.Get("Accept-Encoding"))
			if enc == encodingNone || r.Method == http.MethodHead {
				next.ServeHTTP(w, r)
				return
			}

			w.Header().Add("Vary", "Accept-Encoding")
			cw := &compressWriter{ResponseWriter: w, enc: enc, level: level, minSize: minSize}
			next.ServeHTTP(cw, r)
			_ = cw.finish()
		})
	}
}
