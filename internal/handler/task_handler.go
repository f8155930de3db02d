package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/hitoshi/taskman/internal/middleware"
	"github.com/hitoshi/taskman/internal/model"
	"github.com/hitoshi/taskman/internal/task"
)

// TaskServiceInterface はタスクハンドラーが必要とするサービスインターフェース。
// 単一タスクの操作は所有者以外に対してNotFoundまたはForbiddenを返す。
type TaskServiceInterface interface {
	List(ctx context.Context, userID string, page int, search string) (*model.TaskPage, error)
	Create(ctx context.Context, userID string, input task.CreateInput) (*model.Task, error)
	Get(ctx context.Context, userID, taskID string) (*model.Task, error)
	Update(ctx context.Context, userID, taskID string, patch model.TaskPatch) (*model.Task, error)
	Delete(ctx context.Context, userID, taskID string) error
}

// TaskHandler はタスクCRUDのHTTPハンドラー。
type TaskHandler struct {
	service TaskServiceInterface
}

// NewTaskHandler はTaskHandlerを生成する。
func NewTaskHandler(service TaskServiceInterface) *TaskHandler {
	return &TaskHandler{service: service}
}

// taskResponse はタスクのAPIレスポンス。
type taskResponse struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Description *string   `json:"description"`
	Status      string    `json:"status"`
	UserID      string    `json:"userId"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// taskListResponse はタスク一覧のAPIレスポンス。
type taskListResponse struct {
	Tasks       []taskResponse `json:"tasks"`
	CurrentPage int            `json:"currentPage"`
	TotalPages  int            `json:"totalPages"`
}

type createTaskRequest struct {
	Title       string  `json:"title"`
	Description *string `json:"description"`
	Status      string  `json:"status"`
}

// optionalString は「未指定」と「null」を区別して受け取る。
type optionalString struct {
	set   bool
	value *string
}

func (o *optionalString) UnmarshalJSON(b []byte) error {
	o.set = true
	if bytes.Equal(b, []byte("null")) {
		o.value = nil
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	o.value = &s
	return nil
}

// updateTaskRequest は部分更新リクエスト。所有者のフィールドは持たない。
type updateTaskRequest struct {
	Title       *string        `json:"title"`
	Description optionalString `json:"description"`
	Status      *string        `json:"status"`
}

// toPatch はリクエストをTaskPatchに変換する。
// descriptionのnullは空文字列と同じく説明の削除として扱う。
func (req updateTaskRequest) toPatch() model.TaskPatch {
	var patch model.TaskPatch
	patch.Title = req.Title
	if req.Description.set {
		empty := ""
		patch.Description = &empty
		if req.Description.value != nil {
			patch.Description = req.Description.value
		}
	}
	if req.Status != nil {
		status := model.TaskStatus(*req.Status)
		patch.Status = &status
	}
	return patch
}

// List はログインユーザーのタスク一覧を返す。
// GET /tasks?page=N&search=term
func (h *TaskHandler) List(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	page := 1
	if raw := r.URL.Query().Get("page"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			middleware.WriteErrorResponse(w, http.StatusBadRequest, model.NewInvalidPageError(raw))
			return
		}
		page = n
	}

	result, err := h.service.List(r.Context(), userID, page, r.URL.Query().Get("search"))
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	resp := taskListResponse{
		Tasks:       make([]taskResponse, 0, len(result.Tasks)),
		CurrentPage: result.CurrentPage,
		TotalPages:  result.TotalPages,
	}
	for _, t := range result.Tasks {
		resp.Tasks = append(resp.Tasks, toTaskResponse(t))
	}
	writeJSON(w, http.StatusOK, resp)
}

// Create はタスクを作成する。所有者はログインユーザーに固定される。
// POST /tasks
func (h *TaskHandler) Create(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	var req createTaskRequest
	if err := decodeJSON(w, r, &req); err != nil {
		middleware.WriteErrorResponse(w, http.StatusBadRequest, model.NewInvalidRequestError())
		return
	}

	created, err := h.service.Create(r.Context(), userID, task.CreateInput{
		Title:       req.Title,
		Description: req.Description,
		Status:      req.Status,
	})
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, toTaskResponse(created))
}

// Get はタスクを1件返す。
// GET /tasks/{id}
func (h *TaskHandler) Get(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	t, err := h.service.Get(r.Context(), userID, chi.URLParam(r, "id"))
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, toTaskResponse(t))
}

// Update はタスクを部分更新する。
// PUT /tasks/{id}
func (h *TaskHandler) Update(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	var req updateTaskRequest
	if err := decodeJSON(w, r, &req); err != nil {
		middleware.WriteErrorResponse(w, http.StatusBadRequest, model.NewInvalidRequestError())
		return
	}

	updated, err := h.service.Update(r.Context(), userID, chi.URLParam(r, "id"), req.toPatch())
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, toTaskResponse(updated))
}

// Delete はタスクを削除する。
// DELETE /tasks/{id}
func (h *TaskHandler) Delete(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	if err := h.service.Delete(r.Context(), userID, chi.URLParam(r, "id")); err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"message": "Task deleted successfully"})
}

func toTaskResponse(t *model.Task) taskResponse {
	return taskResponse{
		ID:          t.ID,
		Title:       t.Title,
		Description: t.Description,
		Status:      string(t.Status),
		UserID:      t.UserID,
		CreatedAt:   t.CreatedAt,
		UpdatedAt:   t.UpdatedAt,
	}
}
