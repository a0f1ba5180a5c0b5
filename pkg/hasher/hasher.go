package hasher

import (
	"crypto/sha1"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"hash"
	"image"
	"io"
	"os"

	"github.com/corona10/goimagehash"
)

// ContentHasher 计算整个文件的摘要，作为视频的身份标识。
// 摘要碰撞不会被检测：两个不同的视频若摘要相同，后入库的会被当作重复视频拒绝。
type ContentHasher interface {
	Name() string
	Hash(filePath string) (string, error)
}

type digestHasher struct {
	name string
	new  func() hash.Hash
}

var (
	// SHA1 与早期数据保持兼容，是默认的视频身份哈希。
	SHA1 ContentHasher = digestHasher{name: "sha1", new: sha1.New}
	// SHA256
	SHA256 ContentHasher = digestHasher{name: "sha256", new: sha256.New}
)

// ByName 根据配置中的名称返回哈希实现。
func ByName(name string) (ContentHasher, error) {
	switch name {
	case "sha1", "":
		return SHA1, nil
	case "sha256":
		return SHA256, nil
	default:
		return nil, fmt.Errorf("未知的内容哈希算法: %q", name)
	}
}

func (d digestHasher) Name() string { return d.name }

// Hash 以流的方式读取文件并返回十六进制摘要。
func (d digestHasher) Hash(filePath string) (string, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return "", err
	}
	defer file.Close()

	h := d.new()
	if _, err := io.Copy(h, file); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// PerceptualHash 返回图片的感知哈希，便于对同一张检索图复用。
func PerceptualHash(img image.Image) (*goimagehash.ImageHash, error) {
	return goimagehash.PerceptionHash(img)
}
