package library

import (
	"bytes"

	"golang.org/x/image/webp"
)

// SniffImageExt identifies JPEG, PNG or WebP content by magic bytes and
// returns the matching extension. WebP is additionally decode-probed,
// since the RIFF container alone proves little.
func SniffImageExt(data []byte) (string, bool) {
	switch {
	case len(data) >= 3 && data[0] == 0xFF && data[1] == 0xD8 && data[2] == 0xFF:
		return ".jpg", true
	case len(data) >= 8 && bytes.Equal(data[:8], []byte{0x89, 'P', 'N', 'G', 0x0D, 0x0A, 0x1A, 0x0A}):
		return ".png", true
	case len(data) >= 12 && bytes.Equal(data[:4], []byte("RIFF")) && bytes.Equal(data[8:12], []byte("WEBP")):
		if _, err := webp.DecodeConfig(bytes.NewReader(data)); err != nil {
			return "", false
		}
		return ".webp", true
	}
	return "", false
}
