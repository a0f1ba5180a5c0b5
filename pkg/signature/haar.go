package signature

import (
	"errors"
	"fmt"
	"image"

	"FrameFinder/pkg/apperr"
)

// ErrNotGrayscale 表示哈尔约简收到的不是单通道灰度图。
var ErrNotGrayscale = errors.New("哈尔约简只接受单通道灰度图")

// HaarIterations 计算从 srcW x srcH 约简到 targetW x targetH 需要的迭代次数。
// 每个方向先取 floor(log2(src/target))，若裁剪损失大于填充量则加一，最后取两个方向的平均值。
func HaarIterations(srcW, srcH, targetW, targetH int) int {
	return (axisExponent(srcW, targetW) + axisExponent(srcH, targetH)) / 2
}

func axisExponent(src, target int) int {
	ratio := src / target
	i := 0
	for 1<<(i+1) <= ratio {
		i++
	}
	cut := src - target<<i
	pad := target<<(i+1) - src
	if cut > pad {
		i++
	}
	return i
}

// HaarReduce 对灰度图反复做 2x2 块平均，每次迭代宽高减半，结果紧凑地写到缓冲区前部。
// 迭代结束后取前 targetW*targetH 个字节作为 targetW x targetH 的图片，
// 剩余的取整误差是可接受的近似。
func HaarReduce(src image.Image, targetW, targetH int) (*image.Gray, error) {
	const op = "signature.HaarReduce"
	gray, ok := src.(*image.Gray)
	if !ok {
		return nil, fmt.Errorf("%w: 收到 %T", ErrNotGrayscale, src)
	}
	b := gray.Bounds()
	srcW, srcH := b.Dx(), b.Dy()
	if targetW <= 0 || targetH <= 0 {
		return nil, apperr.Newf(apperr.KindConfiguration, op, "目标尺寸无效: %dx%d", targetW, targetH)
	}
	if targetW > srcW || targetH > srcH {
		return nil, apperr.Newf(apperr.KindConfiguration, op,
			"目标尺寸 %dx%d 大于源图片 %dx%d", targetW, targetH, srcW, srcH)
	}

	buf := make([]byte, srcW*srcH)
	copy(buf, Pixels(gray))

	curW, curH := srcW, srcH
	for it := HaarIterations(srcW, srcH, targetW, targetH); it > 0; it-- {
		pos := 0
		for row := 1; row < curH; row += 2 {
			for col := 1; col < curW; col += 2 {
				a := int(buf[(row-1)*curW+col-1])
				c := int(buf[(row-1)*curW+col])
				d := int(buf[row*curW+col-1])
				e := int(buf[row*curW+col])
				buf[pos] = byte((a + c + d + e) >> 2)
				pos++
			}
		}
		curW >>= 1
		curH >>= 1
	}

	dst := image.NewGray(image.Rect(0, 0, targetW, targetH))
	copy(dst.Pix, buf[:targetW*targetH])
	return dst, nil
}
