package search

import "FrameFinder/internal/models"

// DefaultRunTolerance 是连续相同指纹的帧最多被合并的长度。
const DefaultRunTolerance = 25

// Group 是合并后的一段连续帧，Rep 是它的代表帧。
type Group struct {
	Rep       models.FrameMatch
	RunLength int
}

// Collapse 把同一视频中帧号连续的匹配合并成一组，只有代表帧需要精排。
// matches 必须已按 (视频ID, 帧号) 排序。
//
// 每个视频的第一帧总是代表帧。之后的帧满足 number == last+run 且 run <= k 时
// 并入当前组，否则开始新的一组。
func Collapse(matches []models.FrameMatch, k int) []Group {
	var groups []Group
	var last, run int
	for i, m := range matches {
		if i > 0 && m.VideoID == matches[i-1].VideoID && m.FrameNumber == last+run && run <= k {
			run++
			groups[len(groups)-1].RunLength = run
			continue
		}
		last, run = m.FrameNumber, 1
		groups = append(groups, Group{Rep: m, RunLength: 1})
	}
	return groups
}

// byVideo 把分组按视频切分，保持原有顺序。
func byVideo(groups []Group) [][]Group {
	var out [][]Group
	for i, g := range groups {
		if i == 0 || g.Rep.VideoID != groups[i-1].Rep.VideoID {
			out = append(out, nil)
		}
		out[len(out)-1] = append(out[len(out)-1], g)
	}
	return out
}
