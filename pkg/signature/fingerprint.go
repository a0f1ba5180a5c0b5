package signature

import (
	"encoding/hex"
	"errors"
	"image"

	"FrameFinder/pkg/apperr"

	"github.com/bits-and-blooms/bitset"
)

// ErrWidthMismatch 表示两个指纹（或一个指纹与存储配置）的位宽不一致。
var ErrWidthMismatch = errors.New("指纹位宽不一致")

// Fingerprint 是 W*H 位的无符号整数。行优先扫描的第 i 个像素对应整数的第 W*H-1-i 位，
// 即第一个像素是最高位。
type Fingerprint struct {
	width, height int
	bits          *bitset.BitSet
}

// Pack 按行扫描二值图，每个像素将累加值左移一位，像素为亮时置最低位。
func Pack(bin *image.Gray) Fingerprint {
	b := bin.Bounds()
	w, h := b.Dx(), b.Dy()
	n := uint(w * h)
	bits := bitset.New(n)
	i := uint(0)
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			if bin.Pix[bin.PixOffset(x, y)] == On {
				bits.Set(n - 1 - i)
			}
			i++
		}
	}
	return Fingerprint{width: w, height: h, bits: bits}
}

// Width 返回指纹的位数 W*H。
func (f Fingerprint) Width() int { return f.width * f.height }

// Size 返回生成指纹的二值图尺寸。
func (f Fingerprint) Size() (int, int) { return f.width, f.height }

// IsZero 表示指纹未初始化。
func (f Fingerprint) IsZero() bool { return f.bits == nil }

// Pixel 返回行优先第 i 个像素是否为亮。
func (f Fingerprint) Pixel(i int) bool {
	n := f.Width()
	if f.bits == nil || i < 0 || i >= n {
		return false
	}
	return f.bits.Test(uint(n - 1 - i))
}

// Equal 判断两个指纹是否相等，位宽不同的指纹永远不相等。
func (f Fingerprint) Equal(o Fingerprint) bool {
	if f.Width() != o.Width() {
		return false
	}
	if f.bits == nil || o.bits == nil {
		return f.bits == o.bits
	}
	return f.bits.Equal(o.bits)
}

// Diff 返回两个指纹中不同的像素下标（行优先，升序）。位宽不同时返回配置错误。
func (f Fingerprint) Diff(o Fingerprint) ([]int, error) {
	n := f.Width()
	if n != o.Width() || f.bits == nil || o.bits == nil {
		return nil, apperr.Wrapf(ErrWidthMismatch, apperr.KindConfiguration, "signature.Diff",
			"%d 位与 %d 位", n, o.Width())
	}
	x := f.bits.SymmetricDifference(o.bits)
	out := make([]int, 0, x.Count())
	for k, ok := x.NextSet(0); ok; k, ok = x.NextSet(k + 1) {
		out = append(out, n-1-int(k))
	}
	// 位下标升序对应像素下标降序，翻转一次
	for l, r := 0, len(out)-1; l < r; l, r = l+1, r-1 {
		out[l], out[r] = out[r], out[l]
	}
	return out, nil
}

// Uint64 在位宽不超过 64 时返回指纹的整数值。
func (f Fingerprint) Uint64() (uint64, bool) {
	n := f.Width()
	if f.bits == nil || n > 64 {
		return 0, false
	}
	var v uint64
	for k, ok := f.bits.NextSet(0); ok; k, ok = f.bits.NextSet(k + 1) {
		v |= 1 << k
	}
	return v, true
}

// Bytes 返回指纹整数的大端字节表示，长度为 ceil(W*H/8)。
func (f Fingerprint) Bytes() []byte {
	n := f.Width()
	out := make([]byte, (n+7)/8)
	if f.bits == nil {
		return out
	}
	for k, ok := f.bits.NextSet(0); ok; k, ok = f.bits.NextSet(k + 1) {
		out[len(out)-1-int(k/8)] |= 1 << (k % 8)
	}
	return out
}

// String 返回定长的小写十六进制表示，用作存储中的查询键。
func (f Fingerprint) String() string {
	return hex.EncodeToString(f.Bytes())
}

// Parse 将十六进制字符串解析为 w x h 的指纹。长度或高位不符时返回配置错误。
func Parse(s string, w, h int) (Fingerprint, error) {
	const op = "signature.Parse"
	n := w * h
	raw, err := hex.DecodeString(s)
	if err != nil {
		return Fingerprint{}, apperr.Wrap(err, apperr.KindConfiguration, op, "无效的指纹字符串")
	}
	if len(raw) != (n+7)/8 {
		return Fingerprint{}, apperr.Wrapf(ErrWidthMismatch, apperr.KindConfiguration, op,
			"%d 字节无法表示 %d 位指纹", len(raw), n)
	}
	bits := bitset.New(uint(n))
	for idx, by := range raw {
		base := (len(raw) - 1 - idx) * 8
		for j := 0; j < 8; j++ {
			if by&(1<<j) == 0 {
				continue
			}
			k := base + j
			if k >= n {
				return Fingerprint{}, apperr.Wrapf(ErrWidthMismatch, apperr.KindConfiguration, op,
					"第 %d 位超出 %d 位指纹", k, n)
			}
			bits.Set(uint(k))
		}
	}
	return Fingerprint{width: w, height: h, bits: bits}, nil
}
