// Copyright 2026 The visionbridge Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package imaging

import (
	"bytes"
	"image"
	"image/gif"
	"image/jpeg"
	"image/png"

	log "github.com/sirupsen/logrus"
)

// reencodeForPolicy downscales and re-encodes the payload when policy calls
// for it. Failures here are internal degradations: the original bytes are
// returned unchanged and the request proceeds, because the provider may well
// accept the original image.
func (n *Normalizer) reencodeForPolicy(data []byte, format string, policy Policy) []byte {
	switch format {
	case "webp":
		// Not decodable with the stdlib; pass through unmodified.
		return data
	case "gif":
		if isAnimatedGIF(data) {
			// Re-encoding an animated sequence would drop frames.
			return data
		}
	}

	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		log.Debugf("imaging: decode config failed, keeping original bytes: %v", err)
		return data
	}

	needsResize := policy.MaxDimension > 0 && (cfg.Width > policy.MaxDimension || cfg.Height > policy.MaxDimension)
	lossy := format == "jpeg"
	if !needsResize && !lossy {
		return data
	}

	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		log.Debugf("imaging: decode failed, keeping original bytes: %v", err)
		return data
	}

	if needsResize {
		img = scaleDown(img, policy.MaxDimension)
	}

	encoded, err := encode(img, format, policy.Quality)
	if err != nil {
		log.Debugf("imaging: re-encode failed, keeping original bytes: %v", err)
		return data
	}

	// Re-encoding must never inflate an image that was already small enough.
	if !needsResize && len(encoded) >= len(data) {
		return data
	}
	return encoded
}

func isAnimatedGIF(data []byte) bool {
	g, err := gif.DecodeAll(bytes.NewReader(data))
	if err != nil {
		return false
	}
	return len(g.Image) > 1
}

func encode(img image.Image, format string, quality int) ([]byte, error) {
	var buf bytes.Buffer
	switch format {
	case "jpeg":
		if quality <= 0 || quality > 100 {
			quality = jpeg.DefaultQuality
		}
		if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
			return nil, err
		}
	case "gif":
		if err := gif.Encode(&buf, img, nil); err != nil {
			return nil, err
		}
	default:
		enc := png.Encoder{CompressionLevel: png.BestCompression}
		if err := enc.Encode(&buf, img); err != nil {
			return nil, err
		}
	}
	return buf.Bytes(), nil
}

// scaleDown shrinks the image so both dimensions fit within maxDim,
// preserving aspect ratio. Images already within bounds are returned as-is;
// nothing is ever enlarged. Sampling is box-average over the source region
// covered by each destination pixel.
func scaleDown(src image.Image, maxDim int) image.Image {
	bounds := src.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	if w <= maxDim && h <= maxDim {
		return src
	}

	longest := w
	if h > longest {
		longest = h
	}
	scale := float64(maxDim) / float64(longest)
	dw := int(float64(w)*scale + 0.5)
	dh := int(float64(h)*scale + 0.5)
	if dw < 1 {
		dw = 1
	}
	if dh < 1 {
		dh = 1
	}

	dst := image.NewRGBA(image.Rect(0, 0, dw, dh))
	for dy := 0; dy < dh; dy++ {
		sy0 := bounds.Min.Y + dy*h/dh
		sy1 := bounds.Min.Y + (dy+1)*h/dh
		if sy1 <= sy0 {
			sy1 = sy0 + 1
		}
		for dx := 0; dx < dw; dx++ {
			sx0 := bounds.Min.X + dx*w/dw
			sx1 := bounds.Min.X + (dx+1)*w/dw
			if sx1 <= sx0 {
				sx1 = sx0 + 1
			}

			var r, g, b, a, count uint64
			for sy := sy0; sy < sy1; sy++ {
				for sx := sx0; sx < sx1; sx++ {
					pr, pg, pb, pa := src.At(sx, sy).RGBA()
					r += uint64(pr)
					g += uint64(pg)
					b += uint64(pb)
					a += uint64(pa)
					count++
				}
			}

			i := dst.PixOffset(dx, dy)
			dst.Pix[i+0] = uint8(r / count >> 8)
			dst.Pix[i+1] = uint8(g / count >> 8)
			dst.Pix[i+2] = uint8(b / count >> 8)
			dst.Pix[i+3] = uint8(a / count >> 8)
		}
	}
	return dst
}
