package recorder

import (
	"bytes"
	"image"
	"image/png"
	"sync"
)

const (
	BlankFrameWidth  = 640
	BlankFrameHeight = 360
)

var blankFrame = sync.OnceValue(func() []byte {
	frame, err := NewBlankFrame(BlankFrameWidth, BlankFrameHeight)
	if err != nil {
		panic(err)
	}
	return frame
})

// BlankFrame returns the opaque black 640x360 PNG used to pad video gaps.
// Callers must not modify the returned slice.
func BlankFrame() []byte {
	return blankFrame()
}

func NewBlankFrame(width, height int) ([]byte, error) {
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for i := 3; i < len(img.Pix); i += 4 {
		img.Pix[i] = 0xff
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
