// Package signature 实现帧指纹的计算流程：
// 灰度化 -> 缩放 -> 哈尔约简 -> 二值化 -> 打包，以及像素级的距离比较。
// 所有步骤都是纯函数，调用顺序固定。
package signature

import (
	"fmt"
	"image"
	"image/color"
	"math"
	"strings"
)

// Weights 是 RGB 三个通道在灰度值中的权重。
type Weights struct {
	R, G, B float64
}

var (
	Average        = Weights{1.0 / 3.0, 1.0 / 3.0, 1.0 / 3.0}
	BT709          = Weights{0.2125, 0.7154, 0.0721}
	GIMPLuminosity = Weights{0.21, 0.71, 0.07}
	RMY            = Weights{0.5, 0.419, 0.081}
	YIQ            = Weights{0.299, 0.587, 0.114}
)

// WeightsByName 根据配置中的名称返回灰度权重。
func WeightsByName(name string) (Weights, error) {
	switch strings.ToLower(name) {
	case "average":
		return Average, nil
	case "bt709":
		return BT709, nil
	case "gimp", "":
		return GIMPLuminosity, nil
	case "rmy":
		return RMY, nil
	case "yiq":
		return YIQ, nil
	default:
		return Weights{}, fmt.Errorf("未知的灰度权重: %q", name)
	}
}

// ToGray 将图片转换为 8 位灰度图。每个像素取 round(r*wr + g*wg + b*wb) 并截断到 [0,255]。
// 已经是单通道的输入不做加权：*image.Gray 原样返回，
// *image.Gray16 取高字节，全灰调色板的 *image.Paletted 直接取调色板亮度。
func ToGray(img image.Image, w Weights) *image.Gray {
	switch src := img.(type) {
	case *image.Gray:
		return src
	case *image.Gray16:
		b := src.Bounds()
		dst := image.NewGray(image.Rect(0, 0, b.Dx(), b.Dy()))
		for y := 0; y < b.Dy(); y++ {
			for x := 0; x < b.Dx(); x++ {
				dst.Pix[y*dst.Stride+x] = uint8(src.Gray16At(b.Min.X+x, b.Min.Y+y).Y >> 8)
			}
		}
		return dst
	case *image.Paletted:
		if lut, ok := grayPalette(src.Palette); ok {
			b := src.Bounds()
			dst := image.NewGray(image.Rect(0, 0, b.Dx(), b.Dy()))
			for y := 0; y < b.Dy(); y++ {
				for x := 0; x < b.Dx(); x++ {
					dst.Pix[y*dst.Stride+x] = lut[src.ColorIndexAt(b.Min.X+x, b.Min.Y+y)]
				}
			}
			return dst
		}
	}

	b := img.Bounds()
	dst := image.NewGray(image.Rect(0, 0, b.Dx(), b.Dy()))
	for y := 0; y < b.Dy(); y++ {
		for x := 0; x < b.Dx(); x++ {
			r, g, bl, _ := img.At(b.Min.X+x, b.Min.Y+y).RGBA()
			v := float64(r>>8)*w.R + float64(g>>8)*w.G + float64(bl>>8)*w.B
			dst.Pix[y*dst.Stride+x] = clampByte(math.Round(v))
		}
	}
	return dst
}

// grayPalette 判断调色板是否只包含灰色，是则返回索引到亮度的映射表。
// ffmpeg 以 -pix_fmt gray 输出的 BMP 会被解码为这种图片。
func grayPalette(p color.Palette) ([256]uint8, bool) {
	var lut [256]uint8
	if len(p) > 256 {
		return lut, false
	}
	for i, c := range p {
		r, g, b, _ := c.RGBA()
		if r>>8 != g>>8 || g>>8 != b>>8 {
			return lut, false
		}
		lut[i] = uint8(r >> 8)
	}
	return lut, true
}

func clampByte(v float64) uint8 {
	switch {
	case v < 0:
		return 0
	case v > 255:
		return 255
	default:
		return uint8(v)
	}
}

// Pixels 返回灰度图按行排列的 W*H 字节。图片紧凑且从原点开始时直接返回底层切片。
func Pixels(g *image.Gray) []byte {
	b := g.Bounds()
	w, h := b.Dx(), b.Dy()
	if b.Min == (image.Point{}) && g.Stride == w {
		return g.Pix[:w*h]
	}
	out := make([]byte, 0, w*h)
	for y := 0; y < h; y++ {
		off := g.PixOffset(b.Min.X, b.Min.Y+y)
		out = append(out, g.Pix[off:off+w]...)
	}
	return out
}
