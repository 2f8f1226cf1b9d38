package handler

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"mime/multipart"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"

	"github.com/epibuilder/portal/internal/metrics"
	"github.com/epibuilder/portal/internal/middleware"
	"github.com/epibuilder/portal/internal/model"
	"github.com/epibuilder/portal/internal/service"
	"github.com/epibuilder/portal/pkg/response"
)

// Accepted sequence file extensions.
var validSequenceExts = map[string]bool{
	".fasta": true, ".fa": true, ".faa": true, ".fna": true, ".csv": true,
}

// TaskManager is the slice of the task service the handler needs.
type TaskManager interface {
	Submit(ctx context.Context, user *model.User, sub *model.TaskSubmission,
		fastaFile *multipart.FileHeader, proteomeFiles []*multipart.FileHeader) (*model.Task, error)
	ListByUser(ctx context.Context, userID int64) ([]model.Task, error)
	ListActiveByUser(ctx context.Context, userID int64) ([]model.Task, error)
	Get(ctx context.Context, id int64) (*model.Task, error)
	Delete(ctx context.Context, id int64) error
	Log(ctx context.Context, id int64) (string, error)
	Progress(ctx context.Context, taskUUID string) (*model.WSProgressMessage, error)
	WriteZip(task *model.Task, w io.Writer) error
}

type TaskHandler struct {
	service   TaskManager
	validator *validator.Validate
	metrics   *metrics.Metrics
}

func NewTaskHandler(svc TaskManager, v *validator.Validate, m *metrics.Metrics) *TaskHandler {
	return &TaskHandler{service: svc, validator: v, metrics: m}
}

// New handles POST /epitopes/tasks/new: a multipart body with a JSON
// "data" part, one "file" part, and optional "proteomes" parts.
func (h *TaskHandler) New(c *fiber.Ctx) error {
	userID := middleware.GetUserID(c)
	if userID == 0 {
		return response.Fail(c, fiber.StatusBadRequest, "Login expired. Please log in again.")
	}
	user := &model.User{ID: userID, Username: middleware.GetUsername(c)}

	data := c.FormValue("data")
	if data == "" {
		return response.ValidationError(c, "Missing task data", nil)
	}

	var sub model.TaskSubmission
	if err := json.Unmarshal([]byte(data), &sub); err != nil {
		return response.ValidationError(c, "Invalid request format", nil)
	}
	if err := h.validator.Struct(&sub); err != nil {
		return response.ValidationError(c, "Invalid task parameters", validationDetails(err))
	}

	fastaFile, err := c.FormFile("file")
	if err != nil {
		return response.ValidationError(c, "Sequence file is required", nil)
	}
	if fastaFile.Size == 0 {
		return response.Fail(c, fiber.StatusBadRequest, "Fasta file is empty.")
	}
	if !validSequenceExts[strings.ToLower(filepath.Ext(fastaFile.Filename))] {
		return response.ValidationError(c, "Invalid file type. Please upload a CSV or FASTA file.", nil)
	}

	var proteomeFiles []*multipart.FileHeader
	if form, err := c.MultipartForm(); err == nil {
		proteomeFiles = form.File["proteomes"]
		for _, fh := range proteomeFiles {
			if fh.Size == 0 {
				return response.Fail(c, fiber.StatusBadRequest, "One or more proteome files are empty.")
			}
		}
	}

	task, err := h.service.Submit(c.Context(), user, &sub, fastaFile, proteomeFiles)
	if err != nil {
		if errors.Is(err, service.ErrProteomeRef) {
			return response.Fail(c, fiber.StatusBadRequest, err.Error())
		}
		log.Printf("Task submission failed for user %d: %v", userID, err)
		return response.ServiceError(c, "Unexpected error processing request")
	}

	if h.metrics != nil {
		h.metrics.TasksSubmitted.Inc()
	}
	return response.Success(c, fmt.Sprintf("Task created. ID: %d", task.ID), model.SubmitResponse{
		TaskID: task.ID,
		UUID:   task.UUID,
	})
}

// ListByUser handles GET /epitopes/tasks/user/:userId.
func (h *TaskHandler) ListByUser(c *fiber.Ctx) error {
	userID, err := h.allowedUserID(c)
	if err != nil {
		return response.Forbidden(c, "Cannot access another user's tasks")
	}

	tasks, err := h.service.ListByUser(c.Context(), userID)
	if err != nil {
		log.Printf("Task list failed for user %d: %v", userID, err)
		return response.ServiceError(c, "Failed to list tasks")
	}
	if tasks == nil {
		tasks = []model.Task{}
	}
	return response.OK(c, tasks)
}

// ListActiveByUser handles GET /epitopes/tasks/user/:userId/status,
// the active-only (non-terminal) variant.
func (h *TaskHandler) ListActiveByUser(c *fiber.Ctx) error {
	userID, err := h.allowedUserID(c)
	if err != nil {
		return response.Forbidden(c, "Cannot access another user's tasks")
	}

	tasks, err := h.service.ListActiveByUser(c.Context(), userID)
	if err != nil {
		log.Printf("Active task list failed for user %d: %v", userID, err)
		return response.ServiceError(c, "Failed to list tasks")
	}
	if tasks == nil {
		tasks = []model.Task{}
	}
	return response.OK(c, tasks)
}

// Delete handles DELETE /epitopes/tasks/:id.
func (h *TaskHandler) Delete(c *fiber.Ctx) error {
	task, ok, werr := h.ownedTask(c)
	if !ok {
		return werr
	}

	if err := h.service.Delete(c.Context(), task.ID); err != nil {
		log.Printf("Task delete failed for %d: %v", task.ID, err)
		return response.Fail(c, fiber.StatusInternalServerError, "Failed to delete task: "+err.Error())
	}
	return response.Success(c, "Task and all associated data deleted successfully", nil)
}

// Log handles GET /epitopes/tasks/:id/log and returns the raw text blob.
func (h *TaskHandler) Log(c *fiber.Ctx) error {
	task, ok, werr := h.ownedTask(c)
	if !ok {
		return werr
	}

	text, err := h.service.Log(c.Context(), task.ID)
	if err != nil {
		if errors.Is(err, service.ErrLogNotFound) {
			return c.Status(fiber.StatusNotFound).SendString("Log file not found")
		}
		return response.ServiceError(c, "Error reading log file")
	}

	c.Set(fiber.HeaderContentType, fiber.MIMETextPlainCharsetUTF8)
	return c.SendString(text)
}

// Progress handles GET /epitopes/tasks/:id/progress with the live
// pipeline progress record, or null when none is available.
func (h *TaskHandler) Progress(c *fiber.Ctx) error {
	task, ok, werr := h.ownedTask(c)
	if !ok {
		return werr
	}

	progress, err := h.service.Progress(c.Context(), task.UUID)
	if err != nil {
		return response.ServiceError(c, "Failed to read progress")
	}
	return response.OK(c, progress)
}

// Download handles GET /epitopes/tasks/:id/download, streaming the run
// directory as a zip archive with a filename hint.
func (h *TaskHandler) Download(c *fiber.Ctx) error {
	task, ok, werr := h.ownedTask(c)
	if !ok {
		return werr
	}

	name := service.ZipName(task)
	c.Set(fiber.HeaderContentType, "application/octet-stream")
	c.Set(fiber.HeaderContentDisposition, fmt.Sprintf("attachment; filename=%q", name))

	svc := h.service
	c.Context().SetBodyStreamWriter(func(w *bufio.Writer) {
		if err := svc.WriteZip(task, w); err != nil {
			log.Printf("Task download failed for %d: %v", task.ID, err)
		}
	})
	return nil
}

// ownedTask loads the :id task and enforces that it belongs to the
// requesting user (admins see everything). On failure the response is
// already written and ok is false.
func (h *TaskHandler) ownedTask(c *fiber.Ctx) (task *model.Task, ok bool, werr error) {
	id, err := strconv.ParseInt(c.Params("id"), 10, 64)
	if err != nil {
		return nil, false, response.ValidationError(c, "Invalid task id", nil)
	}

	task, err = h.service.Get(c.Context(), id)
	if err != nil {
		if errors.Is(err, service.ErrTaskNotFound) {
			return nil, false, response.NotFound(c, "Task not found.")
		}
		return nil, false, response.ServiceError(c, "Failed to load task")
	}

	if task.UserID != middleware.GetUserID(c) && middleware.GetRole(c) != model.RoleAdmin {
		return nil, false, response.Forbidden(c, "Cannot access another user's tasks")
	}
	return task, true, nil
}

func (h *TaskHandler) allowedUserID(c *fiber.Ctx) (int64, error) {
	userID, err := strconv.ParseInt(c.Params("userId"), 10, 64)
	if err != nil {
		return 0, err
	}
	if userID != middleware.GetUserID(c) && middleware.GetRole(c) != model.RoleAdmin {
		return 0, errors.New("forbidden")
	}
	return userID, nil
}

func validationDetails(err error) interface{} {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return nil
	}
	fields := make(map[string]string, len(verrs))
	for _, fe := range verrs {
		fields[fe.Field()] = fe.Tag()
	}
	return fields
}
