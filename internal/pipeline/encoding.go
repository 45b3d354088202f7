package pipeline

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/andybalholm/brotli"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
)

const acceptEncoding = "gzip, br, zstd"

// maxBodyBytes bounds a response body, before and after decompression.
var maxBodyBytes int64 = 32 << 20

var errBodyTooLarge = errors.New("response too large")

// readLimited reads r to the end, failing with errBodyTooLarge rather than
// truncating when r holds more than maxBodyBytes.
func readLimited(r io.Reader) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(r, maxBodyBytes+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > maxBodyBytes {
		return nil, fmt.Errorf("%w: over %d bytes", errBodyTooLarge, maxBodyBytes)
	}
	return data, nil
}

// readBody drains resp.Body, undoing any Content-Encoding the server applied.
func readBody(resp *http.Response) ([]byte, error) {
	raw, err := readLimited(resp.Body)
	if err != nil {
		return nil, err
	}
	return decodeBody(strings.ToLower(strings.TrimSpace(resp.Header.Get("Content-Encoding"))), raw)
}

func decodeBody(encoding string, raw []byte) ([]byte, error) {
	if len(raw) == 0 {
		return raw, nil
	}
	switch encoding {
	case "", "identity":
		return raw, nil
	case "gzip", "x-gzip":
		zr, err := gzip.NewReader(bytes.NewReader(raw))
		if err != nil {
			return nil, fmt.Errorf("gzip: %w", err)
		}
		defer zr.Close()
		return readLimited(zr)
	case "br":
		return readLimited(brotli.NewReader(bytes.NewReader(raw)))
	case "zstd":
		zr, err := zstd.NewReader(bytes.NewReader(raw))
		if err != nil {
			return nil, fmt.Errorf("zstd: %w", err)
		}
		defer zr.Close()
		return readLimited(zr)
	default:
		return nil, fmt.Errorf("unsupported content encoding %q", encoding)
	}
}
