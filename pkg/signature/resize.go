package signature

import (
	"errors"
	"image"
	"math"

	"github.com/nfnt/resize"
)

// ErrResizeModeUnset 表示 Resizer 未通过 Exact 或 Bounded 构造。
var ErrResizeModeUnset = errors.New("缩放模式未设置")

type resizeMode int

const (
	modeUnset resizeMode = iota
	modeExact
	modeBounded
)

// Resizer 以双线性插值缩放灰度图。零值没有模式，调用 Resize 会返回 ErrResizeModeUnset。
type Resizer struct {
	mode          resizeMode
	width, height int
}

// Exact 缩放到精确的 w x h，两个方向各自使用独立的比例。
func Exact(w, h int) Resizer {
	return Resizer{mode: modeExact, width: w, height: h}
}

// Bounded 使用统一比例 min(maxW/srcW, maxH/srcH) 缩放，保持宽高比且不超出边界。
func Bounded(maxW, maxH int) Resizer {
	return Resizer{mode: modeBounded, width: maxW, height: maxH}
}

// ResizerByName 根据配置中的模式名构造 Resizer。
func ResizerByName(mode string, w, h int) Resizer {
	switch mode {
	case "exact":
		return Exact(w, h)
	case "bounded":
		return Bounded(w, h)
	default:
		return Resizer{}
	}
}

// TargetSize 计算源尺寸 srcW x srcH 缩放后的输出尺寸。
func (r Resizer) TargetSize(srcW, srcH int) (int, int, error) {
	switch r.mode {
	case modeExact:
		return r.width, r.height, nil
	case modeBounded:
		scale := math.Min(float64(r.width)/float64(srcW), float64(r.height)/float64(srcH))
		w := boundDim(math.Round(float64(srcW)*scale), r.width)
		h := boundDim(math.Round(float64(srcH)*scale), r.height)
		return w, h, nil
	default:
		return 0, 0, ErrResizeModeUnset
	}
}

func boundDim(v float64, limit int) int {
	d := int(v)
	if d > limit {
		d = limit
	}
	if d < 1 {
		d = 1
	}
	return d
}

// Resize 缩放灰度图，输出仍然是 *image.Gray。
func (r Resizer) Resize(src *image.Gray) (*image.Gray, error) {
	b := src.Bounds()
	if b.Empty() {
		return nil, errors.New("无法缩放空图片")
	}
	w, h, err := r.TargetSize(b.Dx(), b.Dy())
	if err != nil {
		return nil, err
	}
	out := resize.Resize(uint(w), uint(h), src, resize.Bilinear)
	if g, ok := out.(*image.Gray); ok {
		return g, nil
	}
	return ToGray(out, GIMPLuminosity), nil
}
