package ingest

import (
	"FrameFinder/internal/models"
	"FrameFinder/pkg/apperr"
	"FrameFinder/pkg/progress"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
)

// Outcome 是一批入库任务对外可见的结果。
type Outcome string

const (
	OutcomeCompleted           Outcome = "completed"
	OutcomeCompletedWithErrors Outcome = "completed_with_errors"
	OutcomeCancelled           Outcome = "cancelled"
	OutcomeFatal               Outcome = "fatal"
)

// VideoOutcome 记录批次中单个视频的处理结果。
type VideoOutcome struct {
	Op      string       `json:"op"` // add | remove
	Video   models.Video `json:"video"`
	Result  *VideoResult `json:"result,omitempty"`
	Error   string       `json:"error,omitempty"`
	Skipped bool         `json:"skipped,omitempty"` // 取消后未处理
}

// Report 汇总一批任务。Err 只在致命错误时设置。
type Report struct {
	Outcome  Outcome        `json:"outcome"`
	Videos   []VideoOutcome `json:"videos"`
	Messages []string       `json:"messages,omitempty"`
	Err      error          `json:"-"`
}

// Failed 返回失败的视频数量。
func (r *Report) Failed() int {
	n := 0
	for _, v := range r.Videos {
		if v.Error != "" {
			n++
		}
	}
	return n
}

func (r *Report) succeeded() int {
	n := 0
	for _, v := range r.Videos {
		if v.Error == "" && !v.Skipped {
			n++
		}
	}
	return n
}

func (r *Report) errorf(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	slog.Error(msg)
	r.Messages = append(r.Messages, msg)
}

// Run 先处理全部新增再处理全部删除。单个视频失败只记录消息，
// 配置错误或帧存储目录不可用会中止整个批次。
func (p *frameIngestor) Run(ctx context.Context, add, remove []models.Video, report progress.Reporter) *Report {
	rep := &Report{}
	total := len(add) + len(remove)
	slog.Info("================== 新的入库任务开始 ==================", "add", len(add), "remove", len(remove))

	if err := os.MkdirAll(p.frameRoot, 0755); err != nil {
		rep.Err = apperr.Wrap(err, apperr.KindConfiguration, "ingest.Run", "无法创建帧存储目录")
		rep.Outcome = OutcomeFatal
		rep.errorf("%v", rep.Err)
		return rep
	}

	slice := func(i int) (float64, float64) {
		if total == 0 {
			return 0, 100
		}
		return float64(i) * 100 / float64(total), float64(i+1) * 100 / float64(total)
	}

	i := 0
	next := func(op string, v models.Video, run func(from, to float64) (*VideoResult, error)) bool {
		idx := i
		i++
		if ctx.Err() != nil {
			rep.Videos = append(rep.Videos, VideoOutcome{Op: op, Video: v, Skipped: true})
			return true
		}
		from, to := slice(idx)
		res, err := run(from, to)
		out := VideoOutcome{Op: op, Video: v, Result: res}
		switch {
		case err == nil:
		case errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded):
			out.Skipped = true
		default:
			out.Error = err.Error()
			rep.errorf("处理视频 %s 失败: %v", displayName(v), err)
			if apperr.IsKind(err, apperr.KindConfiguration) {
				rep.Videos = append(rep.Videos, out)
				rep.Err = err
				return false
			}
		}
		rep.Videos = append(rep.Videos, out)
		return true
	}

	proceed := true
	for _, v := range add {
		if proceed = next("add", v, func(from, to float64) (*VideoResult, error) {
			return p.add(ctx, v, report, from, to)
		}); !proceed {
			break
		}
	}
	for _, v := range remove {
		if !proceed {
			break
		}
		proceed = next("remove", v, func(from, to float64) (*VideoResult, error) {
			return nil, p.remove(ctx, v, report, from, to)
		})
	}

	switch {
	case rep.Err != nil && rep.succeeded() == 0:
		rep.Outcome = OutcomeFatal
	case ctx.Err() != nil:
		rep.Outcome = OutcomeCancelled
	case rep.Err != nil || rep.Failed() > 0:
		rep.Outcome = OutcomeCompletedWithErrors
	default:
		rep.Outcome = OutcomeCompleted
	}

	report.Report(progress.Event{Stage: progress.StageDone, Done: rep.succeeded(), Total: total, Percent: 100, Message: string(rep.Outcome)})
	slog.Info("================== 入库任务结束 ==================", "outcome", rep.Outcome, "failed", rep.Failed())
	return rep
}

func displayName(v models.Video) string {
	if v.Name != "" {
		return v.Name
	}
	return v.ID
}
