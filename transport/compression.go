package transport

import (
	"bytes"
	"compress/gzip"
	"strings"
	"sync"

	"github.com/andybalholm/brotli"
	"github.com/gofiber/fiber/v3"
)

// CompressionConfig configures the Brotli/Gzip response middleware.
type CompressionConfig struct {
	EnableBrotli bool
	EnableGzip   bool
	BrotliLevel  int
	GzipLevel    int
	MinSize      int
	Types        []string
}

// DefaultCompressionConfig returns sensible defaults for production use.
func DefaultCompressionConfig() CompressionConfig {
	return CompressionConfig{
		EnableBrotli: true,
		EnableGzip:   true,
		BrotliLevel:  4,
		GzipLevel:    6,
		MinSize:      1024,
		Types: []string{
			"text/html", "text/css", "text/javascript", "text/xml", "text/plain",
			"application/javascript", "application/json", "application/xml",
			"application/xhtml+xml", "image/svg+xml",
		},
	}
}

// BrotliGzipMiddleware prefers Brotli over Gzip when the client's
// Accept-Encoding supports it, pooling compressors to avoid a fresh
// allocation per request.
func BrotliGzipMiddleware(cfg CompressionConfig) fiber.Handler {
	if cfg.BrotliLevel < 0 {
		cfg.BrotliLevel = 0
	}
	if cfg.BrotliLevel > 11 {
		cfg.BrotliLevel = 11
	}
	if cfg.GzipLevel < 1 {
		cfg.GzipLevel = 1
	}
	if cfg.GzipLevel > 9 {
		cfg.GzipLevel = 9
	}

	brPool := sync.Pool{New: func() any { return brotli.NewWriterLevel(nil, cfg.BrotliLevel) }}
	gzPool := sync.Pool{New: func() any { w, _ := gzip.NewWriterLevel(nil, cfg.GzipLevel); return w }}

	return func(c fiber.Ctx) error {
		acceptEncoding := strings.ToLower(c.Get("Accept-Encoding"))
		if acceptEncoding == "" {
			return c.Next()
		}
		useBrotli := cfg.EnableBrotli && strings.Contains(acceptEncoding, "br")
		useGzip := !useBrotli && cfg.EnableGzip && strings.Contains(acceptEncoding, "gzip")
		if !useBrotli && !useGzip {
			return c.Next()
		}

		if err := c.Next(); err != nil {
			return err
		}

		body := c.Response().Body()
		if len(body) < cfg.MinSize || c.Get("Content-Encoding") != "" {
			return nil
		}
		contentType := string(c.Response().Header.ContentType())
		compressible := false
		for _, t := range cfg.Types {
			if strings.Contains(contentType, t) {
				compressible = true
				break
			}
		}
		if !compressible {
			return nil
		}

		var compressed []byte
		var encoding string
		if useBrotli {
			compressed, encoding = compressWith(&brPool, body, func(w any, buf *bytes.Buffer) {
				bw := w.(*brotli.Writer)
				bw.Reset(buf)
			}), "br"
		} else {
			compressed, encoding = compressWith(&gzPool, body, func(w any, buf *bytes.Buffer) {
				gw := w.(*gzip.Writer)
				gw.Reset(buf)
			}), "gzip"
		}
		if len(compressed) == 0 || len(compressed) >= len(body) {
			return nil
		}

		c.Set("Content-Encoding", encoding)
		c.Set("Vary", "Accept-Encoding")
		c.Response().SetBody(compressed)
		return nil
	}
}

type flushCloser interface {
	Write([]byte) (int, error)
	Close() error
}

func compressWith(pool *sync.Pool, data []byte, reset func(w any, buf *bytes.Buffer)) []byte {
	w := pool.Get()
	defer pool.Put(w)

	var buf bytes.Buffer
	reset(w, &buf)

	fc := w.(flushCloser)
	if _, err := fc.Write(data); err != nil {
		return nil
	}
	if err := fc.Close(); err != nil {
		return nil
	}
	return buf.Bytes()
}
