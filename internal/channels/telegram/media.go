package telegram

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"net/http"

	"github.com/disintegration/imaging"
	"github.com/mymmrac/telego"

	"github.com/dinh2350/lunar-sub002/internal/bus"
)

// maxImageEdge bounds the longest side of an image sent to the model.
const maxImageEdge = 1024

// photoAttachment downloads the largest photo size, downscales it and
// returns it as a base64 JPEG attachment.
func (c *Connector) photoAttachment(ctx context.Context, sizes []telego.PhotoSize) (bus.Attachment, error) {
	// Telegram lists sizes smallest first.
	largest := sizes[len(sizes)-1]

	file, err := c.bot.GetFile(ctx, &telego.GetFileParams{FileID: largest.FileID})
	if err != nil {
		return bus.Attachment{}, fmt.Errorf("get file: %w", err)
	}
	data, err := c.download(ctx, c.bot.FileDownloadURL(file.FilePath))
	if err != nil {
		return bus.Attachment{}, err
	}

	encoded, err := downscaleJPEG(data)
	if err != nil {
		return bus.Attachment{}, err
	}
	return bus.Attachment{
		Kind:  bus.AttachmentImage,
		Bytes: encoded,
		Mime:  "image/jpeg",
	}, nil
}

func (c *Connector) download(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("download photo: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("download photo: status %d", resp.StatusCode)
	}
	return io.ReadAll(io.LimitReader(resp.Body, 20<<20))
}

// downscaleJPEG bounds the image to maxImageEdge per side and returns
// the base64-encoded JPEG bytes.
func downscaleJPEG(data []byte) ([]byte, error) {
	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}
	bounds := img.Bounds()
	if bounds.Dx() > maxImageEdge || bounds.Dy() > maxImageEdge {
		img = imaging.Fit(img, maxImageEdge, maxImageEdge, imaging.Lanczos)
	}
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.JPEG, imaging.JPEGQuality(85)); err != nil {
		return nil, fmt.Errorf("encode image: %w", err)
	}
	out := make([]byte, base64.StdEncoding.EncodedLen(buf.Len()))
	base64.StdEncoding.Encode(out, buf.Bytes())
	return out, nil
}
