package config

import (
	"FrameFinder/pkg/apperr"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// FingerprintConfig 描述帧指纹的尺寸参数，入库与检索必须使用同一组值。
type FingerprintConfig struct {
	ImageWidth    int    `mapstructure:"imageWidth" yaml:"imageWidth" json:"imageWidth"`
	ImageHeight   int    `mapstructure:"imageHeight" yaml:"imageHeight" json:"imageHeight"`
	WaveletWidth  int    `mapstructure:"waveletWidth" yaml:"waveletWidth" json:"waveletWidth"`
	WaveletHeight int    `mapstructure:"waveletHeight" yaml:"waveletHeight" json:"waveletHeight"`
	Threshold     int    `mapstructure:"threshold" yaml:"threshold" json:"threshold"`
	Grayscale     string `mapstructure:"grayscale" yaml:"grayscale" json:"grayscale"`       // average | bt709 | gimp | rmy | yiq
	QueryResize   string `mapstructure:"queryResize" yaml:"queryResize" json:"queryResize"` // exact | bounded
}

type IngestConfig struct {
	FrameStoragePath string `mapstructure:"frameStoragePath" yaml:"frameStoragePath" json:"frameStoragePath"`
	WorkerCount      int    `mapstructure:"workerCount" yaml:"workerCount" json:"workerCount"`
	BatchSize        int    `mapstructure:"batchSize" yaml:"batchSize" json:"batchSize"`
	FFmpegPath       string `mapstructure:"ffmpegPath" yaml:"ffmpegPath" json:"ffmpegPath"`
	ContentHash      string `mapstructure:"contentHash" yaml:"contentHash" json:"contentHash"` // sha1 | sha256
}

type SearchConfig struct {
	RunTolerance       int  `mapstructure:"runTolerance" yaml:"runTolerance" json:"runTolerance"`
	PerceptualDistance bool `mapstructure:"perceptualDistance" yaml:"perceptualDistance" json:"perceptualDistance"`
}

type ServerConfig struct {
	Port           string        `mapstructure:"port" yaml:"port" json:"port"`
	Timeout        time.Duration `mapstructure:"timeout" yaml:"timeout" json:"timeout"`
	AllowedOrigins []string      `mapstructure:"allowedOrigins" yaml:"allowedOrigins" json:"allowedOrigins"`
}

type DatabaseConfig struct {
	Driver string `mapstructure:"driver" yaml:"driver" json:"driver"` // mongo | postgres | memory
	URI    string `mapstructure:"uri" yaml:"uri" json:"uri"`
	Name   string `mapstructure:"name" yaml:"name" json:"name"`
}

type LoggerConfig struct {
	Level  string `mapstructure:"level" yaml:"level" json:"level"`
	Format string `mapstructure:"format" yaml:"format" json:"format"` // text | json | tint
}

type Config struct {
	Server      ServerConfig      `mapstructure:"server" yaml:"server" json:"server"`
	Database    DatabaseConfig    `mapstructure:"database" yaml:"database" json:"database"`
	Logger      LoggerConfig      `mapstructure:"logger" yaml:"logger" json:"logger"`
	Fingerprint FingerprintConfig `mapstructure:"fingerprint" yaml:"fingerprint" json:"fingerprint"`
	Ingest      IngestConfig      `mapstructure:"ingest" yaml:"ingest" json:"ingest"`
	Search      SearchConfig      `mapstructure:"search" yaml:"search" json:"search"`
}

const (
	fileName  = "config"
	envPrefix = "FRAMEFINDER"
)

// setDefaults 注册默认值，未出现在 config.yaml 中的键使用这些值。
func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", ":8080")
	v.SetDefault("server.timeout", 30*time.Second)
	v.SetDefault("server.allowedOrigins", []string{"http://localhost:5173"})

	v.SetDefault("database.driver", "mongo")
	v.SetDefault("database.uri", "mongodb://localhost:27017")
	v.SetDefault("database.name", "frame_finder")

	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "text")

	v.SetDefault("fingerprint.imageWidth", 320)
	v.SetDefault("fingerprint.imageHeight", 240)
	v.SetDefault("fingerprint.waveletWidth", 8)
	v.SetDefault("fingerprint.waveletHeight", 6)
	v.SetDefault("fingerprint.threshold", 128)
	v.SetDefault("fingerprint.grayscale", "gimp")
	v.SetDefault("fingerprint.queryResize", "exact")

	v.SetDefault("ingest.frameStoragePath", "./frames")
	v.SetDefault("ingest.workerCount", 1)
	v.SetDefault("ingest.batchSize", 500)
	v.SetDefault("ingest.ffmpegPath", "ffmpeg")
	v.SetDefault("ingest.contentHash", "sha1")

	v.SetDefault("search.runTolerance", 25)
	v.SetDefault("search.perceptualDistance", false)
}

// LoadConfig 从目录 path 中读取 config.yaml，并叠加 FRAMEFINDER_ 前缀的环境变量。
// 配置文件不存在时使用默认值。
func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	v.AddConfigPath(path)
	v.SetConfigName(fileName)
	v.SetConfigType("yaml")
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("无法读取配置文件: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("无法解析配置: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default 返回仅由默认值组成的配置，主要用于测试和 init 操作。
func Default() *Config {
	v := viper.New()
	setDefaults(v)
	var cfg Config
	_ = v.Unmarshal(&cfg)
	return &cfg
}

// Validate 检查尺寸等关键参数，任何不合法的值都是配置错误。
func (c *Config) Validate() error {
	const op = "config.Validate"
	f := c.Fingerprint
	if f.ImageWidth <= 0 || f.ImageHeight <= 0 {
		return apperr.Newf(apperr.KindConfiguration, op, "图片尺寸无效: %dx%d", f.ImageWidth, f.ImageHeight)
	}
	if f.WaveletWidth <= 0 || f.WaveletHeight <= 0 {
		return apperr.Newf(apperr.KindConfiguration, op, "小波尺寸无效: %dx%d", f.WaveletWidth, f.WaveletHeight)
	}
	if f.WaveletWidth > f.ImageWidth || f.WaveletHeight > f.ImageHeight {
		return apperr.Newf(apperr.KindConfiguration, op, "小波尺寸 %dx%d 大于图片尺寸 %dx%d",
			f.WaveletWidth, f.WaveletHeight, f.ImageWidth, f.ImageHeight)
	}
	if f.Threshold < 0 || f.Threshold > 255 {
		return apperr.Newf(apperr.KindConfiguration, op, "阈值必须在 0-255 之间: %d", f.Threshold)
	}
	switch f.QueryResize {
	case "bounded", "exact":
	default:
		return apperr.Newf(apperr.KindConfiguration, op, "未知的缩放模式: %q", f.QueryResize)
	}
	switch c.Database.Driver {
	case "mongo", "postgres", "memory":
	default:
		return apperr.Newf(apperr.KindConfiguration, op, "未知的数据库驱动: %q", c.Database.Driver)
	}
	switch c.Ingest.ContentHash {
	case "sha1", "sha256":
	default:
		return apperr.Newf(apperr.KindConfiguration, op, "未知的内容哈希算法: %q", c.Ingest.ContentHash)
	}
	if c.Search.RunTolerance < 0 {
		return apperr.Newf(apperr.KindConfiguration, op, "连续帧容差不能为负数: %d", c.Search.RunTolerance)
	}
	if strings.TrimSpace(c.Ingest.FrameStoragePath) == "" {
		return apperr.New(apperr.KindConfiguration, op, "缺少帧存储目录 ingest.frameStoragePath")
	}
	return nil
}

// Save 将配置序列化为 YAML 并写入 dir/config.yaml。
func Save(dir string, cfg *Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("序列化配置为YAML失败: %w", err)
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("无法创建配置目录: %w", err)
	}
	target := filepath.Join(dir, fileName+".yaml")
	if err := os.WriteFile(target, data, 0644); err != nil {
		return fmt.Errorf("写入 %s 失败: %w", target, err)
	}
	return nil
}
