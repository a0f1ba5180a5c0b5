package models

import (
	"time"
)

// Video 代表一个已入库（或等待入库）的视频文件。
type Video struct {
	// ID 是整个视频文件的内容哈希，也是视频的唯一标识。
	// 相等性只由 ID 决定。
	ID string `bson:"_id" json:"id"`

	// Name 是视频的显示名称，默认取文件名。
	Name string `bson:"name" json:"name"`

	// SourcePath 是源视频文件在文件系统上的路径。
	SourcePath string `bson:"path" json:"path"`

	// FrameDir 是解码后帧图片所在的目录，即 <帧存储根目录>/<ID>。
	FrameDir string `bson:"frameDir" json:"frameDir"`

	// Frames 按帧号升序排列，仅在入库流程中使用，不会整体写入数据库。
	Frames []Frame `bson:"-" json:"-"`

	CreatedAt time.Time `bson:"createdAt" json:"createdAt"`
}

// Equal 判断两个视频是否为同一个视频。
func (v Video) Equal(o Video) bool { return v.ID == o.ID }

// Frame 是视频中的一帧及其指纹。计算完成后不再修改。
type Frame struct {
	VideoID string `bson:"videoId" json:"videoId"`
	Number  int    `bson:"number" json:"number"`
	// Fingerprint 是指纹的定长十六进制形式，作为等值查询的键。
	Fingerprint string `bson:"fingerprint" json:"fingerprint"`
	Path        string `bson:"path" json:"path"`
}

// VideoMeta 是视频列表中展示的摘要信息。
type VideoMeta struct {
	ID         string `bson:"_id" json:"id"`
	Name       string `bson:"name" json:"name"`
	SourcePath string `bson:"path" json:"path"`
	FrameDir   string `bson:"frameDir" json:"frameDir"`
	FrameCount int64  `bson:"frameCount" json:"frameCount"`
}

// FrameMatch 是按指纹查询返回的一行：帧及其所属视频的信息。
type FrameMatch struct {
	VideoID     string `bson:"videoId" json:"videoId"`
	VideoName   string `bson:"videoName" json:"videoName"`
	VideoPath   string `bson:"videoPath" json:"videoPath"`
	FrameNumber int    `bson:"number" json:"frameNumber"`
	FramePath   string `bson:"path" json:"framePath"`
}

// MatchCandidate 是精排后的一个候选结果。
type MatchCandidate struct {
	Video VideoMeta `json:"video"`
	// Frame 是代表帧，它代表了 RunLength 个指纹相同的连续帧。
	Frame     FrameMatch `json:"frame"`
	RunLength int        `json:"runLength"`
	// Distance 是代表帧与检索图片之间的像素 L1 距离。
	Distance uint64 `json:"distance"`
	// PerceptualDistance 是感知哈希的汉明距离，未计算时为 -1。
	PerceptualDistance int `json:"perceptualDistance"`
}

// SearchStats 记录一次检索各阶段的数量。
type SearchStats struct {
	Retrieved       int `json:"retrieved"`
	Representatives int `json:"representatives"`
	Refined         int `json:"refined"`
	Failed          int `json:"failed"`
}

// ComparisonResult 是一次检索的结果，Candidates 按距离升序排列，距离相同时保持发现顺序。
type ComparisonResult struct {
	Candidates []MatchCandidate `json:"candidates"`
	// Cancelled 为 true 时，Candidates 只包含取消前已完成的视频。
	Cancelled bool        `json:"cancelled"`
	Stats     SearchStats `json:"stats"`
}
