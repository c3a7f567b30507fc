package launcher

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/skip2/go-qrcode"
)

// TerminalRenderer writes views as plain text.
type TerminalRenderer struct {
	mu          sync.Mutex
	w           io.Writer
	interactive bool
	showQR      bool
	lastQR      string
}

// NewTerminalRenderer creates a renderer writing to w. Interactive renderers
// print key hints; showQR prints the connected URL as a QR code.
func NewTerminalRenderer(w io.Writer, interactive, showQR bool) *TerminalRenderer {
	return &TerminalRenderer{w: w, interactive: interactive, showQR: showQR}
}

// Render writes the view.
func (t *TerminalRenderer) Render(v View) {
	t.mu.Lock()
	defer t.mu.Unlock()

	var b strings.Builder
	switch v.Region {
	case RegionLoading:
		b.WriteString("… Looking for your Ryvie\n")

	case RegionError:
		fmt.Fprintf(&b, "✗ %s\n", v.Message)
		if t.interactive {
			b.WriteString("  [r] retry  [q] quit\n")
		}

	case RegionConnected:
		fmt.Fprintf(&b, "✓ Ryvie %s connected (%s)\n", v.Identity, v.Mode)
		fmt.Fprintf(&b, "  %s\n", v.URL)

		if t.showQR && v.URL != "" && v.URL != t.lastQR && !v.Overlay {
			if qr, err := QRString(v.URL); err == nil {
				b.WriteString(qr)
				t.lastQR = v.URL
			}
		}

		if v.Overlay {
			b.WriteString("\n! A different Ryvie answered on your network.\n")
			fmt.Fprintf(&b, "  remembered: %s\n", v.PreviousID)
			fmt.Fprintf(&b, "  found:      %s\n", v.NewID)
			if v.Message != "" {
				fmt.Fprintf(&b, "  ✗ %s\n", v.Message)
			}
			if t.interactive {
				b.WriteString("  [a] use the new Ryvie  [x] keep the remembered one (public access)\n")
			}
		} else if t.interactive {
			b.WriteString("  [o] open  [r] refresh  [v] reveal/hide id  [q] quit\n")
		}
	}

	_, _ = io.WriteString(t.w, b.String())
}

// Notice writes a one-line message.
func (t *TerminalRenderer) Notice(msg string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, _ = fmt.Fprintf(t.w, "» %s\n", msg)
}

// QRString renders content as a QR code using half-block characters, two
// modules per character row. Light modules are drawn so the code scans on
// dark terminals.
func QRString(content string) (string, error) {
	q, err := qrcode.New(content, qrcode.Medium)
	if err != nil {
		return "", fmt.Errorf("encode qr code: %w", err)
	}
	bm := q.Bitmap()

	var b strings.Builder
	for y := 0; y < len(bm); y += 2 {
		for x := range bm[y] {
			top := !bm[y][x]
			bottom := y+1 < len(bm) && !bm[y+1][x]
			switch {
			case top && bottom:
				b.WriteString("█")
			case top:
				b.WriteString("▀")
			case bottom:
				b.WriteString("▄")
			default:
				b.WriteString(" ")
			}
		}
		b.WriteByte('\n')
	}
	return b.String(), nil
}

// WriteQRPNG writes content as a PNG QR code of size pixels to path.
func WriteQRPNG(content, path string, size int) error {
	if err := qrcode.WriteFile(content, qrcode.Medium, size, path); err != nil {
		return fmt.Errorf("write qr code: %w", err)
	}
	return nil
}
