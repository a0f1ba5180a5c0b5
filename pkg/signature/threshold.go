package signature

import "image"

// DefaultThreshold 是二值化的默认阈值。
const DefaultThreshold uint8 = 128

// On 是二值图中“亮”像素的值。
const On uint8 = 0xFF

// Threshold 将 src 二值化：小于 t 的像素为 0，其余为 0xFF。
// dst 为 nil 时新建图片，dst 可以就是 src。
func Threshold(src, dst *image.Gray, t uint8) *image.Gray {
	b := src.Bounds()
	if dst == nil {
		dst = image.NewGray(b)
	}
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			v := src.Pix[src.PixOffset(x, y)]
			if v < t {
				v = 0
			} else {
				v = On
			}
			dst.Pix[dst.PixOffset(x, y)] = v
		}
	}
	return dst
}
