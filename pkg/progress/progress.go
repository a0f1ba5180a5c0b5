// Package progress 定义入库与检索共用的进度事件。取消通过 context.Context 传递。
package progress

// Stage 表示后台任务当前所处的阶段。
type Stage string

const (
	StageHashing     Stage = "hashing"
	StageExtracting  Stage = "extracting"
	StageFingerprint Stage = "fingerprinting"
	StagePersisting  Stage = "persisting"
	StageRemoving    Stage = "removing"
	StageRetrieving  Stage = "retrieving"
	StageRefining    Stage = "refining"
	StageDone        Stage = "done"
)

// Event 是一次进度更新。Percent 为整个任务的完成百分比 (0-100)。
type Event struct {
	Stage   Stage   `json:"stage"`
	Video   string  `json:"video,omitempty"`
	Done    int     `json:"done"`
	Total   int     `json:"total"`
	Percent float64 `json:"percent"`
	Message string  `json:"message,omitempty"`
}

// Reporter 接收进度事件，必须可以被多个 goroutine 并发调用。
type Reporter func(Event)

// Report 在 r 不为 nil 时发送事件。
func (r Reporter) Report(e Event) {
	if r != nil {
		r(e)
	}
}

// Span 把 [0,100] 的局部进度映射到整体进度中的 [from, to] 区间。
func Span(from, to, local float64) float64 {
	if local < 0 {
		local = 0
	}
	if local > 100 {
		local = 100
	}
	return from + (to-from)*local/100
}
