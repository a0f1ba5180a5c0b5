package signature

import (
	"bytes"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"os"

	"FrameFinder/config"
	"FrameFinder/pkg/apperr"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/webp"
)

// Options 是指纹计算所需的全部参数，由配置显式传入。
type Options struct {
	ImageWidth    int
	ImageHeight   int
	WaveletWidth  int
	WaveletHeight int
	Threshold     uint8
	Weights       Weights
	QueryResize   Resizer
}

// OptionsFromConfig 将配置文件中的 fingerprint 段转换为 Options。
func OptionsFromConfig(cfg config.FingerprintConfig) (Options, error) {
	w, err := WeightsByName(cfg.Grayscale)
	if err != nil {
		return Options{}, apperr.Wrap(err, apperr.KindConfiguration, "signature.OptionsFromConfig", "")
	}
	return Options{
		ImageWidth:    cfg.ImageWidth,
		ImageHeight:   cfg.ImageHeight,
		WaveletWidth:  cfg.WaveletWidth,
		WaveletHeight: cfg.WaveletHeight,
		Threshold:     uint8(cfg.Threshold),
		Weights:       w,
		QueryResize:   ResizerByName(cfg.QueryResize, cfg.ImageWidth, cfg.ImageHeight),
	}, nil
}

// Query 是一次检索的输入：缩放后的灰度像素及其指纹。
type Query struct {
	Image       *image.Gray
	Pixels      []byte
	Fingerprint Fingerprint
}

// Engine 按固定顺序组合各个步骤，把图片变成指纹。
type Engine struct {
	opts Options
}

// NewEngine 校验参数并创建引擎。尺寸缺失或不合法属于配置错误。
func NewEngine(opts Options) (*Engine, error) {
	const op = "signature.NewEngine"
	if opts.ImageWidth <= 0 || opts.ImageHeight <= 0 {
		return nil, apperr.Newf(apperr.KindConfiguration, op, "图片尺寸无效: %dx%d", opts.ImageWidth, opts.ImageHeight)
	}
	if opts.WaveletWidth <= 0 || opts.WaveletHeight <= 0 ||
		opts.WaveletWidth > opts.ImageWidth || opts.WaveletHeight > opts.ImageHeight {
		return nil, apperr.Newf(apperr.KindConfiguration, op, "小波尺寸无效: %dx%d", opts.WaveletWidth, opts.WaveletHeight)
	}
	if opts.QueryResize.mode == modeUnset {
		return nil, apperr.Wrap(ErrResizeModeUnset, apperr.KindConfiguration, op, "")
	}
	if opts.Weights == (Weights{}) {
		opts.Weights = GIMPLuminosity
	}
	return &Engine{opts: opts}, nil
}

// Options 返回引擎使用的参数。
func (e *Engine) Options() Options { return e.opts }

// Width 返回引擎生成的指纹位数。
func (e *Engine) Width() int { return e.opts.WaveletWidth * e.opts.WaveletHeight }

// FingerprintFile 读取并解码一帧图片后计算指纹。解码失败只影响这一帧。
func (e *Engine) FingerprintFile(path string) (Fingerprint, error) {
	img, err := DecodeFile(path)
	if err != nil {
		return Fingerprint{}, err
	}
	return e.FingerprintImage(img)
}

// FingerprintImage 计算入库帧的指纹。帧已由解码器输出为单通道且尺寸正确，不再缩放。
func (e *Engine) FingerprintImage(img image.Image) (Fingerprint, error) {
	return e.reduce(ToGray(img, e.opts.Weights))
}

// Query 读取检索图片，完成灰度化、缩放与指纹计算。
func (e *Engine) Query(path string) (*Query, error) {
	img, err := DecodeFile(path)
	if err != nil {
		return nil, err
	}
	return e.QueryImage(img)
}

// QueryReader 与 Query 相同，但从 r 中读取图片数据。
func (e *Engine) QueryReader(r io.Reader) (*Query, error) {
	img, err := Decode(r, "upload")
	if err != nil {
		return nil, err
	}
	return e.QueryImage(img)
}

// QueryImage 对已解码的检索图片执行完整流程。
func (e *Engine) QueryImage(img image.Image) (*Query, error) {
	gray := ToGray(img, e.opts.Weights)
	resized, err := e.opts.QueryResize.Resize(gray)
	if err != nil {
		return nil, apperr.Wrap(err, apperr.KindConfiguration, "signature.QueryImage", "缩放检索图片失败")
	}
	fp, err := e.reduce(resized)
	if err != nil {
		return nil, err
	}
	return &Query{Image: resized, Pixels: Pixels(resized), Fingerprint: fp}, nil
}

func (e *Engine) reduce(gray *image.Gray) (Fingerprint, error) {
	reduced, err := HaarReduce(gray, e.opts.WaveletWidth, e.opts.WaveletHeight)
	if err != nil {
		return Fingerprint{}, err
	}
	return Pack(Threshold(reduced, reduced, e.opts.Threshold)), nil
}

// DecodeFile 解码图片文件，失败时返回 KindDecode 错误。
func DecodeFile(path string) (image.Image, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, apperr.Wrap(err, apperr.KindDecode, "signature.DecodeFile", path)
	}
	return Decode(bytes.NewReader(data), path)
}

// Decode 从 r 中解码图片，name 只用于错误信息。
func Decode(r io.Reader, name string) (image.Image, error) {
	img, _, err := image.Decode(r)
	if err != nil {
		return nil, apperr.Wrap(err, apperr.KindDecode, "signature.Decode", fmt.Sprintf("无法解码 %s", name))
	}
	return img, nil
}

// LoadGray 读取一帧并转换为灰度图，检索精排阶段使用。
func LoadGray(path string) (*image.Gray, error) {
	img, err := DecodeFile(path)
	if err != nil {
		return nil, err
	}
	return ToGray(img, GIMPLuminosity), nil
}
