package signature

// Comparator 保存一份参考像素缓冲区，用于计算与候选帧的 L1 距离。
type Comparator struct {
	ref []byte
}

func NewComparator(ref []byte) *Comparator {
	return &Comparator{ref: ref}
}

// Compare 返回按有符号字节计算的 sum |ref[i] - cand[i]|。
// 长度不同时较短的一方按 0 补齐。
func (c *Comparator) Compare(cand []byte) uint64 {
	return Distance(c.ref, cand)
}

// Distance 是 Comparator.Compare 的无状态版本。
func Distance(a, b []byte) uint64 {
	n := len(a)
	if len(b) > n {
		n = len(b)
	}
	var sum uint64
	for i := 0; i < n; i++ {
		var x, y int
		if i < len(a) {
			x = int(int8(a[i]))
		}
		if i < len(b) {
			y = int(int8(b[i]))
		}
		d := x - y
		if d < 0 {
			d = -d
		}
		sum += uint64(d)
	}
	return sum
}
