package scraper

import (
	"bytes"
	"image/png"

	"github.com/charmbracelet/log"
	"github.com/nfnt/resize"

	"github.com/patrickjm/imgscout/internal/browser"
)

const thumbnailSelector = "img"

type thumbnailer struct {
	maxWidth int
	logger   *log.Logger
}

// capture returns nil when the element has no image or the driver fails.
func (t thumbnailer) capture(el browser.Element, id string) []byte {
	shot, err := el.Screenshot(thumbnailSelector)
	if err != nil {
		t.logger.Debug("thumbnail capture failed", "id", id, "err", err)
		return nil
	}
	if len(shot) == 0 {
		return nil
	}
	return t.shrink(shot, id)
}

func (t thumbnailer) shrink(shot []byte, id string) []byte {
	if t.maxWidth <= 0 {
		return shot
	}
	cfg, err := png.DecodeConfig(bytes.NewReader(shot))
	if err != nil || cfg.Width <= t.maxWidth {
		return shot
	}
	img, err := png.Decode(bytes.NewReader(shot))
	if err != nil {
		t.logger.Debug("thumbnail decode failed", "id", id, "err", err)
		return shot
	}
	scaled := resize.Resize(uint(t.maxWidth), 0, img, resize.Lanczos3)
	var buf bytes.Buffer
	if err := png.Encode(&buf, scaled); err != nil {
		t.logger.Debug("thumbnail encode failed", "id", id, "err", err)
		return shot
	}
	return buf.Bytes()
}
