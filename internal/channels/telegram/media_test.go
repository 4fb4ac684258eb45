package telegram

import (
	"bytes"
	"encoding/base64"
	"image"
	"image/jpeg"
	"testing"

	"github.com/disintegration/imaging"
)

func jpegBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, image.NewRGBA(image.Rect(0, 0, w, h)), nil); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func decodeResult(t *testing.T, encoded []byte) image.Image {
	t.Helper()
	raw, err := base64.StdEncoding.DecodeString(string(encoded))
	if err != nil {
		t.Fatal(err)
	}
	img, err := imaging.Decode(bytes.NewReader(raw))
	if err != nil {
		t.Fatal(err)
	}
	return img
}

func TestDownscaleLargeImage(t *testing.T) {
	encoded, err := downscaleJPEG(jpegBytes(t, 3000, 1500))
	if err != nil {
		t.Fatal(err)
	}
	img := decodeResult(t, encoded)
	if img.Bounds().Dx() != maxImageEdge {
		t.Errorf("width = %d, want %d", img.Bounds().Dx(), maxImageEdge)
	}
	if img.Bounds().Dy() != maxImageEdge/2 {
		t.Errorf("height = %d, want %d", img.Bounds().Dy(), maxImageEdge/2)
	}
}

func TestSmallImageKeepsSize(t *testing.T) {
	encoded, err := downscaleJPEG(jpegBytes(t, 320, 200))
	if err != nil {
		t.Fatal(err)
	}
	img := decodeResult(t, encoded)
	if img.Bounds().Dx() != 320 || img.Bounds().Dy() != 200 {
		t.Errorf("bounds = %v, want 320x200", img.Bounds())
	}
}

func TestDownscaleRejectsGarbage(t *testing.T) {
	if _, err := downscaleJPEG([]byte("not an image")); err == nil {
		t.Error("garbage input should fail")
	}
}
