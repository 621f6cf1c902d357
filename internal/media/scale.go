package media

import (
	"fmt"
	"math"
)

// aspectTolerance is the maximum aspect-ratio difference still treated as a
// match, avoiding a one-pixel letterbox from floating point noise.
const aspectTolerance = 1e-6

// Scale resizes an I420 frame to exactly targetWidth x targetHeight. If the
// source and target aspect ratios match within tolerance the planes are
// stretched directly. Otherwise the frame is scaled to fit entirely within
// the target box and centered on a black canvas (letterbox or pillarbox), so
// every emitted frame is dimension-compatible with a fixed encoder input
// format regardless of source resolution changes.
func Scale(f Frame, targetWidth, targetHeight int) ([]byte, error) {
	if err := f.Validate(); err != nil {
		return nil, err
	}
	if targetWidth%2 != 0 || targetHeight%2 != 0 {
		return nil, fmt.Errorf("target dimensions %dx%d must be even for I420", targetWidth, targetHeight)
	}

	srcW, srcH := f.Width, f.Height
	y := f.Data[:srcW*srcH]
	u := f.Data[srcW*srcH : srcW*srcH+(srcW/2)*(srcH/2)]
	v := f.Data[srcW*srcH+(srcW/2)*(srcH/2):]

	srcAspect := float64(srcW) / float64(srcH)
	dstAspect := float64(targetWidth) / float64(targetHeight)

	if math.Abs(srcAspect-dstAspect) < aspectTolerance {
		out := make([]byte, 0, FrameSize(targetWidth, targetHeight))
		out = append(out, resizePlane(y, srcW, srcH, targetWidth, targetHeight)...)
		out = append(out, resizePlane(u, srcW/2, srcH/2, targetWidth/2, targetHeight/2)...)
		out = append(out, resizePlane(v, srcW/2, srcH/2, targetWidth/2, targetHeight/2)...)
		return out, nil
	}

	// Fit entirely within the target box: match the axis that would
	// otherwise overflow, shrink the other.
	var scaledW, scaledH int
	if srcAspect > dstAspect {
		scaledW = targetWidth
		scaledH = int(math.Round(float64(targetWidth) / srcAspect))
	} else {
		scaledH = targetHeight
		scaledW = int(math.Round(float64(targetHeight) * srcAspect))
	}

	scaledY := resizePlane(y, srcW, srcH, scaledW, scaledH)
	scaledU := resizePlane(u, srcW/2, srcH/2, scaledW/2, scaledH/2)
	scaledV := resizePlane(v, srcW/2, srcH/2, scaledW/2, scaledH/2)

	canvas, err := BlackFrame(targetWidth, targetHeight)
	if err != nil {
		return nil, err
	}

	offX := (targetWidth - scaledW) / 2
	offY := (targetHeight - scaledH) / 2

	blitPlane(canvas[:targetWidth*targetHeight], targetWidth, scaledY, scaledW, scaledH, offX, offY)

	uStart := targetWidth * targetHeight
	uLen := (targetWidth / 2) * (targetHeight / 2)
	// Chroma offsets are the luma offsets halved; integer division keeps
	// them aligned to the subsampled grid.
	blitPlane(canvas[uStart:uStart+uLen], targetWidth/2, scaledU, scaledW/2, scaledH/2, offX/2, offY/2)
	blitPlane(canvas[uStart+uLen:], targetWidth/2, scaledV, scaledW/2, scaledH/2, offX/2, offY/2)

	return canvas, nil
}

// resizePlane performs a bilinear resize of a single 8-bit plane.
func resizePlane(src []byte, srcW, srcH, dstW, dstH int) []byte {
	dst := make([]byte, dstW*dstH)
	if srcW == dstW && srcH == dstH {
		copy(dst, src)
		return dst
	}

	xRatio := float64(srcW) / float64(dstW)
	yRatio := float64(srcH) / float64(dstH)

	for dy := 0; dy < dstH; dy++ {
		sy := (float64(dy)+0.5)*yRatio - 0.5
		if sy < 0 {
			sy = 0
		}
		y0 := int(sy)
		y1 := y0 + 1
		if y1 >= srcH {
			y1 = srcH - 1
		}
		fy := sy - float64(y0)

		for dx := 0; dx < dstW; dx++ {
			sx := (float64(dx)+0.5)*xRatio - 0.5
			if sx < 0 {
				sx = 0
			}
			x0 := int(sx)
			x1 := x0 + 1
			if x1 >= srcW {
				x1 = srcW - 1
			}
			fx := sx - float64(x0)

			top := float64(src[y0*srcW+x0])*(1-fx) + float64(src[y0*srcW+x1])*fx
			bot := float64(src[y1*srcW+x0])*(1-fx) + float64(src[y1*srcW+x1])*fx
			dst[dy*dstW+dx] = byte(top*(1-fy) + bot*fy + 0.5)
		}
	}
	return dst
}

// blitPlane copies src into dst at the given offset. dst rows are dstW wide.
func blitPlane(dst []byte, dstW int, src []byte, srcW, srcH, offX, offY int) {
	for row := 0; row < srcH; row++ {
		copy(dst[(offY+row)*dstW+offX:], src[row*srcW:(row+1)*srcW])
	}
}
