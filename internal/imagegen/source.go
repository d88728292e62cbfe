package imagegen

import (
	"bytes"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	"github.com/disintegration/imaging"
)

func encodeFormat(format string) (imaging.Format, string, bool) {
	switch format {
	case "jpeg":
		return imaging.JPEG, "image/jpeg", true
	case "png":
		return imaging.PNG, "image/png", true
	case "gif":
		return imaging.GIF, "image/gif", true
	}
	return 0, "", false
}

// PrepareSource shrinks an upload so its longest side fits maxDimension
// before it is inlined into the generation request. Images already within
// bounds, and formats the decoder does not know, are passed through.
func PrepareSource(data []byte, mimeType string, maxDimension int) ([]byte, string, error) {
	if maxDimension <= 0 || len(data) == 0 {
		return data, mimeType, nil
	}
	cfg, formatStr, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return data, mimeType, nil
	}
	if cfg.Width <= maxDimension && cfg.Height <= maxDimension {
		return data, mimeType, nil
	}
	format, outMIME, ok := encodeFormat(formatStr)
	if !ok {
		return data, mimeType, nil
	}

	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return nil, "", fmt.Errorf("decode source: %w", err)
	}
	resized := imaging.Fit(img, maxDimension, maxDimension, imaging.Lanczos)

	buf := new(bytes.Buffer)
	if err := imaging.Encode(buf, resized, format, imaging.JPEGQuality(90)); err != nil {
		return nil, "", fmt.Errorf("encode source: %w", err)
	}
	return buf.Bytes(), outMIME, nil
}
