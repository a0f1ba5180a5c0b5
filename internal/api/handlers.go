// 文件: internal/api/handlers.go
package api

import (
	"FrameFinder/config"
	"FrameFinder/internal/models"
	"FrameFinder/internal/task"
	"FrameFinder/pkg/apperr"
	"FrameFinder/pkg/database"
	"FrameFinder/pkg/ingest"
	"FrameFinder/pkg/search"
	"FrameFinder/pkg/signature"
	"FrameFinder/pkg/thumbnailer"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/mozillazg/go-unidecode"
)

// APIHandlers 持有所有依赖
type APIHandlers struct {
	taskManager *task.Manager
	store       database.FrameStore
	searcher    search.Searcher
	engine      *signature.Engine

	cfgMu     sync.RWMutex
	cfg       *config.Config
	saved     *config.Config // 已写入文件、尚未生效的配置
	configDir string
}

// NewAPIHandlers 创建一个新的API处理器实例
func NewAPIHandlers(tm *task.Manager, store database.FrameStore, s search.Searcher, engine *signature.Engine, cfg *config.Config, configDir string) *APIHandlers {
	return &APIHandlers{
		taskManager: tm,
		store:       store,
		searcher:    s,
		engine:      engine,
		cfg:         cfg,
		configDir:   configDir,
	}
}

// --- 辅助函数 ---

// respondJSON 辅助函数，用于统一返回JSON响应
func respondJSON(w http.ResponseWriter, status int, payload interface{}) {
	response, err := json.Marshal(payload)
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte(err.Error()))
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(response)
}

// respondError 辅助函数，用于统一返回错误信息
func respondError(w http.ResponseWriter, code int, message string) {
	respondJSON(w, code, map[string]string{"error": message})
}

// statusFor 把错误类别映射为 HTTP 状态码。
func statusFor(err error) int {
	switch {
	case errors.Is(err, task.ErrTaskRunning), errors.Is(err, database.ErrVideoExists):
		return http.StatusConflict
	case apperr.IsKind(err, apperr.KindNotFound):
		return http.StatusNotFound
	case apperr.IsKind(err, apperr.KindDecode), apperr.IsKind(err, apperr.KindConfiguration):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// --- 任务处理器 ---

func (h *APIHandlers) HandleStartIngestTask(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Paths  []string `json:"paths"`
		Remove []string `json:"remove"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		respondError(w, http.StatusBadRequest, "无效的请求体: "+err.Error())
		return
	}
	if len(payload.Paths) == 0 && len(payload.Remove) == 0 {
		respondError(w, http.StatusBadRequest, "缺少 'paths' 或 'remove' 字段")
		return
	}

	add := make([]models.Video, 0, len(payload.Paths))
	for _, p := range payload.Paths {
		v, err := ingest.VideoFromFile(p)
		if err != nil {
			respondError(w, http.StatusBadRequest, err.Error())
			return
		}
		add = append(add, v)
	}
	remove := make([]models.Video, 0, len(payload.Remove))
	for _, id := range payload.Remove {
		remove = append(remove, models.Video{ID: id})
	}

	h.startTask(w, add, remove)
}

func (h *APIHandlers) startTask(w http.ResponseWriter, add, remove []models.Video) {
	taskID, err := h.taskManager.StartIngestTask(add, remove)
	if err != nil {
		respondError(w, statusFor(err), err.Error())
		return
	}
	respondJSON(w, http.StatusAccepted, map[string]string{"taskId": taskID})
}

func (h *APIHandlers) HandleGetTaskStatus(w http.ResponseWriter, r *http.Request) {
	status, err := h.taskManager.GetTaskStatus(chi.URLParam(r, "taskId"))
	if err != nil {
		respondError(w, statusFor(err), err.Error())
		return
	}
	respondJSON(w, http.StatusOK, status)
}

func (h *APIHandlers) HandleCancelTask(w http.ResponseWriter, r *http.Request) {
	taskID := chi.URLParam(r, "taskId")
	if err := h.taskManager.Cancel(taskID); err != nil {
		respondError(w, statusFor(err), err.Error())
		return
	}
	status, err := h.taskManager.GetTaskStatus(taskID)
	if err != nil {
		respondError(w, statusFor(err), err.Error())
		return
	}
	respondJSON(w, http.StatusAccepted, status)
}

// --- 视频处理器 ---

// normalizeName 把名称转写为 ASCII 并转为小写，便于跨语言匹配。
func normalizeName(s string) string {
	return strings.ToLower(strings.TrimSpace(unidecode.Unidecode(s)))
}

func (h *APIHandlers) HandleListVideos(w http.ResponseWriter, r *http.Request) {
	videos, err := h.store.ListVideos(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, "无法获取视频列表: "+err.Error())
		return
	}
	if q := normalizeName(r.URL.Query().Get("q")); q != "" {
		filtered := videos[:0]
		for _, v := range videos {
			if strings.Contains(normalizeName(v.Name), q) {
				filtered = append(filtered, v)
			}
		}
		videos = filtered
	}
	response := map[string]interface{}{
		"data":       videos,
		"totalItems": len(videos),
	}
	respondJSON(w, http.StatusOK, response)
}

func (h *APIHandlers) HandleDeleteVideo(w http.ResponseWriter, r *http.Request) {
	videoID := chi.URLParam(r, "videoId")
	exists, err := h.store.VideoExists(r.Context(), videoID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "查询视频失败: "+err.Error())
		return
	}
	if !exists {
		respondError(w, http.StatusNotFound, "找不到视频: "+videoID)
		return
	}
	h.startTask(w, nil, []models.Video{{ID: videoID}})
}

// --- 搜索处理器 ---

// searchHit 是返回给前端的一个检索结果，附带代表帧的缩略图。
type searchHit struct {
	models.MatchCandidate
	Thumbnail string `json:"thumbnail,omitempty"`
}

func (h *APIHandlers) HandleSearchByImage(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(10 << 20); err != nil {
		respondError(w, http.StatusBadRequest, "无法解析表单: "+err.Error())
		return
	}
	file, header, err := r.FormFile("image")
	if err != nil {
		respondError(w, http.StatusBadRequest, "获取上传文件失败: "+err.Error())
		return
	}
	defer file.Close()

	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	q, err := h.engine.QueryReader(file)
	if err != nil {
		respondError(w, statusFor(err), "处理检索图片失败: "+err.Error())
		return
	}
	res, err := h.searcher.Search(r.Context(), q, nil)
	if err != nil {
		respondError(w, statusFor(err), "检索失败: "+err.Error())
		return
	}
	slog.Info("图片检索完成", "file", header.Filename, "candidates", len(res.Candidates))

	cands := res.Candidates
	if limit > 0 && len(cands) > limit {
		cands = cands[:limit]
	}
	hits := make([]searchHit, 0, len(cands))
	for _, c := range cands {
		hit := searchHit{MatchCandidate: c}
		if thumb, err := thumbnailer.FromFile(c.Frame.FramePath, thumbnailer.DefaultWidth, thumbnailer.DefaultHeight); err != nil {
			slog.Warn("生成缩略图失败", "path", c.Frame.FramePath, "error", err)
		} else {
			hit.Thumbnail = thumb
		}
		hits = append(hits, hit)
	}

	response := map[string]interface{}{
		"data":       hits,
		"totalItems": len(res.Candidates),
		"cancelled":  res.Cancelled,
		"stats":      res.Stats,
	}
	respondJSON(w, http.StatusOK, response)
}

// --- 配置处理器 ---

// configView 是返回给客户端的配置，数据库连接串中的密码已被隐去。
type configView struct {
	config.Config
	RestartPending bool `json:"restartPending"`
}

const redactedURI = "******"

// redactURI 隐去连接串中的密码。无法按 URL 解析的连接串整体隐去。
func redactURI(uri string) string {
	if uri == "" {
		return ""
	}
	u, err := url.Parse(uri)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return redactedURI
	}
	return u.Redacted()
}

func redacted(c *config.Config, pending bool) configView {
	v := configView{Config: *c, RestartPending: pending}
	v.Database.URI = redactURI(c.Database.URI)
	return v
}

// HandleGetConfig 获取服务当前正在使用的配置
func (h *APIHandlers) HandleGetConfig(w http.ResponseWriter, r *http.Request) {
	h.cfgMu.RLock()
	defer h.cfgMu.RUnlock()
	respondJSON(w, http.StatusOK, redacted(h.cfg, h.saved != nil))
}

// HandleUpdateConfig 校验并保存应用配置，新的配置在服务重启后生效。
func (h *APIHandlers) HandleUpdateConfig(w http.ResponseWriter, r *http.Request) {
	var newConfig config.Config
	if err := json.NewDecoder(r.Body).Decode(&newConfig); err != nil {
		respondError(w, http.StatusBadRequest, "无效的配置格式: "+err.Error())
		return
	}
	if err := newConfig.Validate(); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	h.cfgMu.Lock()
	defer h.cfgMu.Unlock()
	// 客户端原样提交隐去后的连接串时保留原值
	prev := h.cfg
	if h.saved != nil {
		prev = h.saved
	}
	if newConfig.Database.URI == redactURI(prev.Database.URI) {
		newConfig.Database.URI = prev.Database.URI
	}
	if err := config.Save(h.configDir, &newConfig); err != nil {
		respondError(w, http.StatusInternalServerError, "写入配置文件失败: "+err.Error())
		return
	}
	h.saved = &newConfig
	slog.Info("配置已保存，重启后生效", "dir", h.configDir)
	respondJSON(w, http.StatusAccepted, redacted(&newConfig, true))
}
