package middleware

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"

	"github.com/openctemio/invitations/pkg/apierror"
)

// DecompressConfig configures the decompression middleware.
type DecompressConfig struct {
	// MaxDecompressedSize caps the inflated body. Default: 5MB.
	MaxDecompressedSize int64

	// MaxCompressedSize caps the raw body read from the wire. Default: 1MB.
	MaxCompressedSize int64

	// MaxCompressionRatio rejects bodies that inflate more than this.
	// Default: 100.
	MaxCompressionRatio float64
}

// DefaultDecompressConfig suits bulk invitation payloads: a few thousand
// addresses at most.
func DefaultDecompressConfig() *DecompressConfig {
	return &DecompressConfig{
		MaxDecompressedSize: 5 << 20,
		MaxCompressedSize:   1 << 20,
		MaxCompressionRatio: 100,
	}
}

var errUnsupportedEncoding = errors.New("unsupported content encoding")

// Decompress inflates gzip and zstd request bodies according to
// Content-Encoding. A global BodyLimit bounds the bytes on the wire; the
// inflated body is bounded by cfg.
func Decompress(cfg *DecompressConfig) func(http.Handler) http.Handler {
	if cfg == nil {
		cfg = DefaultDecompressConfig()
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			encoding := strings.ToLower(strings.TrimSpace(r.Header.Get("Content-Encoding")))
			if !hasBody(r) || encoding == "" || encoding == "identity" {
				next.ServeHTTP(w, r)
				return
			}

			body, err := inflate(r.Body, encoding, cfg)
			if err != nil {
				requestID := GetRequestID(r.Context())
				if errors.Is(err, errUnsupportedEncoding) {
					apierror.New(http.StatusUnsupportedMediaType, apierror.CodeBadRequest,
						"Unsupported Content-Encoding").WriteJSONWithRequestID(w, requestID)
					return
				}
				apierror.BadRequest("Invalid compressed request body").WriteJSONWithRequestID(w, requestID)
				return
			}

			r.Body = io.NopCloser(bytes.NewReader(body))
			r.ContentLength = int64(len(body))
			r.Header.Del("Content-Encoding")

			next.ServeHTTP(w, r)
		})
	}
}

func hasBody(r *http.Request) bool {
	switch r.Method {
	case http.MethodGet, http.MethodHead, http.MethodOptions, http.MethodTrace:
		return false
	}
	return true
}

// inflate reads at most MaxCompressedSize bytes and inflates them into at
// most MaxDecompressedSize bytes, rejecting suspicious ratios.
func inflate(body io.ReadCloser, encoding string, cfg *DecompressConfig) ([]byte, error) {
	defer body.Close()

	compressed, err := io.ReadAll(io.LimitReader(body, cfg.MaxCompressedSize+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read compressed body: %w", err)
	}
	if int64(len(compressed)) > cfg.MaxCompressedSize {
		return nil, fmt.Errorf("compressed size exceeds limit %d", cfg.MaxCompressedSize)
	}
	if len(compressed) == 0 {
		return []byte{}, nil
	}

	var reader io.Reader
	switch encoding {
	case "gzip":
		gr, err := gzip.NewReader(bytes.NewReader(compressed))
		if err != nil {
			return nil, fmt.Errorf("gzip reader error: %w", err)
		}
		defer gr.Close()
		reader = gr
	case "zstd":
		//nolint:gosec // MaxDecompressedSize is a positive byte count
		zr, err := zstd.NewReader(bytes.NewReader(compressed),
			zstd.WithDecoderMaxMemory(uint64(cfg.MaxDecompressedSize)),
			zstd.WithDecoderConcurrency(1),
		)
		if err != nil {
			return nil, fmt.Errorf("zstd reader error: %w", err)
		}
		defer zr.Close()
		reader = zr
	default:
		return nil, fmt.Errorf("%w: %s", errUnsupportedEncoding, encoding)
	}

	inflated, err := io.ReadAll(io.LimitReader(reader, cfg.MaxDecompressedSize+1))
	if err != nil {
		return nil, fmt.Errorf("decompression error: %w", err)
	}
	if int64(len(inflated)) > cfg.MaxDecompressedSize {
		return nil, fmt.Errorf("decompressed size exceeds limit %d", cfg.MaxDecompressedSize)
	}
	if ratio := float64(len(inflated)) / float64(len(compressed)); ratio > cfg.MaxCompressionRatio {
		return nil, fmt.Errorf("compression ratio %.1f exceeds limit %.1f", ratio, cfg.MaxCompressionRatio)
	}
	return inflated, nil
}
