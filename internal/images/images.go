// Package images turns uploaded, pasted or linked images into data URIs that
// can be embedded in note content.
package images

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/starford/sangmemo/internal/markdown"
)

// MaxSize is the largest image accepted, in bytes.
const MaxSize = 10 << 20

var (
	ErrNotImage = errors.New("file is not a supported image")
	ErrTooLarge = fmt.Errorf("image exceeds %d bytes", MaxSize)
)

var supported = map[string]bool{
	"image/png":     true,
	"image/jpeg":    true,
	"image/gif":     true,
	"image/webp":    true,
	"image/svg+xml": true,
}

// Image is a validated image payload.
type Image struct {
	MIME string
	Data []byte
}

// DataURI encodes the image as a base64 data URI.
func (i Image) DataURI() string {
	return "data:" + i.MIME + ";base64," + base64.StdEncoding.EncodeToString(i.Data)
}

// Token returns the markdown-image token that embeds the image.
func (i Image) Token(alt string) string {
	return markdown.ImageToken(alt, i.DataURI())
}

// FromBytes validates raw file content. The MIME type is sniffed from the
// bytes; a declared type is only consulted for SVG, which cannot be sniffed.
func FromBytes(data []byte, declared string) (Image, error) {
	if len(data) == 0 {
		return Image{}, fmt.Errorf("%w: empty file", ErrNotImage)
	}
	if len(data) > MaxSize {
		return Image{}, ErrTooLarge
	}
	mime := strings.Split(http.DetectContentType(data), ";")[0]
	if isSVG(data, declared) {
		mime = "image/svg+xml"
	}
	if !supported[mime] {
		return Image{}, fmt.Errorf("%w: detected %s", ErrNotImage, mime)
	}
	return Image{MIME: mime, Data: data}, nil
}

// FromDataURI parses a data:[<mediatype>];base64,<data> URI.
func FromDataURI(uri string) (Image, error) {
	rest, ok := strings.CutPrefix(uri, "data:")
	if !ok {
		return Image{}, fmt.Errorf("%w: not a data URI", ErrNotImage)
	}
	meta, encoded, ok := strings.Cut(rest, ",")
	if !ok {
		return Image{}, fmt.Errorf("invalid data URI: missing comma separator")
	}
	if !strings.Contains(meta, ";base64") {
		return Image{}, fmt.Errorf("only base64 data URIs are supported")
	}
	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		data, err = base64.RawStdEncoding.DecodeString(encoded)
		if err != nil {
			return Image{}, fmt.Errorf("invalid base64 data: %w", err)
		}
	}
	declared := strings.Split(strings.TrimSuffix(meta, ";base64"), ";")[0]
	if !strings.HasPrefix(declared, "image/") {
		return Image{}, fmt.Errorf("%w: declared %s", ErrNotImage, declared)
	}
	return FromBytes(data, declared)
}

func isSVG(data []byte, declared string) bool {
	if declared != "image/svg+xml" {
		return false
	}
	prefix := data
	if len(prefix) > 1024 {
		prefix = prefix[:1024]
	}
	return bytes.Contains(prefix, []byte("<svg"))
}

// Fetcher downloads images from http(s) URLs.
type Fetcher struct {
	Client *http.Client
	// AllowLoopback disables the loopback host check; tests only.
	AllowLoopback bool
}

// NewFetcher returns a Fetcher with a 30 s timeout and at most 5 redirects.
func NewFetcher() *Fetcher {
	f := &Fetcher{}
	f.Client = &http.Client{
		Timeout: 30 * time.Second,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= 5 {
				return fmt.Errorf("too many redirects (max 5)")
			}
			return f.checkHost(req.URL.Hostname())
		},
	}
	return f
}

// Fetch downloads rawURL and validates the body as an image.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) (Image, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return Image{}, fmt.Errorf("invalid URL: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return Image{}, fmt.Errorf("unsupported scheme: %s (only http/https)", parsed.Scheme)
	}
	if err := f.checkHost(parsed.Hostname()); err != nil {
		return Image{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return Image{}, fmt.Errorf("build request: %w", err)
	}
	resp, err := f.Client.Do(req)
	if err != nil {
		return Image{}, fmt.Errorf("download failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return Image{}, fmt.Errorf("download failed: HTTP %d", resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, MaxSize+1))
	if err != nil {
		return Image{}, fmt.Errorf("read body failed: %w", err)
	}
	return FromBytes(data, strings.Split(resp.Header.Get("Content-Type"), ";")[0])
}

// checkHost rejects loopback and cloud metadata addresses.
func (f *Fetcher) checkHost(host string) error {
	if host == "metadata.google.internal" {
		return fmt.Errorf("blocked host: %s", host)
	}

	ip := net.ParseIP(host)
	if ip == nil {
		ips, lookupErr := net.LookupIP(host)
		if lookupErr != nil || len(ips) == 0 {
			return nil //nolint:nilerr // let http.Client handle DNS failures
		}
		ip = ips[0]
	}

	if ip.IsLoopback() && !f.AllowLoopback {
		return fmt.Errorf("blocked host: loopback address %s", host)
	}
	if ip.Equal(net.ParseIP("169.254.169.254")) {
		return fmt.Errorf("blocked host: cloud metadata address %s", host)
	}
	return nil
}
