// Package thumbnailer 为检索结果中的代表帧生成内嵌的 JPEG 缩略图。
package thumbnailer

import (
	"FrameFinder/pkg/signature"
	"bytes"
	"encoding/base64"
	"fmt"
	"image"
	"image/jpeg"

	"github.com/disintegration/imaging"
)

// DefaultWidth 和 DefaultHeight 是 API 返回缩略图的最大尺寸。
const (
	DefaultWidth  = 160
	DefaultHeight = 120
)

// CreateBase64 把图片缩放到不超过 width x height，编码为 data URI。
func CreateBase64(src image.Image, width, height int) (string, error) {
	thumb := imaging.Fit(src, width, height, imaging.Lanczos)

	buf := new(bytes.Buffer)
	if err := jpeg.Encode(buf, thumb, &jpeg.Options{Quality: 80}); err != nil {
		return "", fmt.Errorf("编码缩略图失败: %w", err)
	}
	return "data:image/jpeg;base64," + base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}

// FromFile 读取一帧图片并生成缩略图。
func FromFile(path string, width, height int) (string, error) {
	img, err := signature.DecodeFile(path)
	if err != nil {
		return "", err
	}
	return CreateBase64(img, width, height)
}
