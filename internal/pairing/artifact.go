// Package pairing turns raw WhatsApp pairing payloads into scannable QR
// artifacts and keeps a copy of the latest one on disk.
package pairing

import (
	"encoding/base64"
	"fmt"
	"strings"
	"time"

	qrcode "github.com/skip2/go-qrcode"
)

// DefaultSize is the edge length in pixels of rendered QR images.
const DefaultSize = 256

// Artifact is a rendered pairing code. It is only meaningful while the
// session waits for a scan.
type Artifact struct {
	Code     string    // raw payload from the session
	Image    string    // data:image/png;base64 URL of PNG
	PNG      []byte
	IssuedAt time.Time
}

// Renderer encodes pairing codes as PNG QR images.
type Renderer struct {
	Size  int
	Level qrcode.RecoveryLevel
}

// NewRenderer returns a renderer producing size×size images at medium
// error correction.
func NewRenderer(size int) *Renderer {
	if size <= 0 {
		size = DefaultSize
	}
	return &Renderer{Size: size, Level: qrcode.Medium}
}

// Render encodes code into an Artifact.
func (r *Renderer) Render(code string) (*Artifact, error) {
	if code == "" {
		return nil, fmt.Errorf("empty pairing code")
	}
	png, err := qrcode.Encode(code, r.Level, r.Size)
	if err != nil {
		return nil, fmt.Errorf("encode qr: %w", err)
	}
	return &Artifact{
		Code:     code,
		Image:    DataURL(png),
		PNG:      png,
		IssuedAt: time.Now(),
	}, nil
}

// DataURL wraps PNG bytes in a data URL suitable for an <img> src.
func DataURL(png []byte) string {
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(png)
}

// Terminal renders code as a compact QR block using Unicode half-block
// characters. Two bitmap rows become one terminal line.
func Terminal(code string) (string, error) {
	qr, err := qrcode.New(code, qrcode.Low)
	if err != nil {
		return "", fmt.Errorf("encode qr: %w", err)
	}
	bitmap := qr.Bitmap()
	rows := len(bitmap)

	var sb strings.Builder
	for y := 0; y < rows; y += 2 {
		sb.WriteString("  ")
		for x := range bitmap[y] {
			top := bitmap[y][x]
			bot := y+1 < rows && bitmap[y+1][x]
			switch {
			case top && bot:
				sb.WriteRune('█')
			case top:
				sb.WriteRune('▀')
			case bot:
				sb.WriteRune('▄')
			default:
				sb.WriteRune(' ')
			}
		}
		sb.WriteRune('\n')
	}
	return sb.String(), nil
}
