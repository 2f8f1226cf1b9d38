package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/epibuilder/portal/internal/metrics"
	"github.com/epibuilder/portal/internal/model"
	"github.com/epibuilder/portal/internal/service"
)

type stubTasks struct {
	tasks     []model.Task
	task      *model.Task
	submitted *model.TaskSubmission
	deleted   int64
	logText   string
	err       error
}

func (s *stubTasks) Submit(ctx context.Context, user *model.User, sub *model.TaskSubmission,
	fastaFile *multipart.FileHeader, proteomeFiles []*multipart.FileHeader) (*model.Task, error) {
	if s.err != nil {
		return nil, s.err
	}
	s.submitted = sub
	return &model.Task{ID: 11, UUID: "u-11", UserID: user.ID, RunName: sub.RunName}, nil
}

func (s *stubTasks) ListByUser(ctx context.Context, userID int64) ([]model.Task, error) {
	return s.tasks, s.err
}

func (s *stubTasks) ListActiveByUser(ctx context.Context, userID int64) ([]model.Task, error) {
	var active []model.Task
	for _, t := range s.tasks {
		if !t.Status.Terminal() {
			active = append(active, t)
		}
	}
	return active, s.err
}

func (s *stubTasks) Get(ctx context.Context, id int64) (*model.Task, error) {
	if s.task == nil || s.task.ID != id {
		return nil, service.ErrTaskNotFound
	}
	return s.task, nil
}

func (s *stubTasks) Delete(ctx context.Context, id int64) error {
	s.deleted = id
	return s.err
}

func (s *stubTasks) Log(ctx context.Context, id int64) (string, error) {
	if s.logText == "" {
		return "", service.ErrLogNotFound
	}
	return s.logText, nil
}

func (s *stubTasks) Progress(ctx context.Context, taskUUID string) (*model.WSProgressMessage, error) {
	return nil, nil
}

func (s *stubTasks) WriteZip(task *model.Task, w io.Writer) error {
	_, err := w.Write([]byte("zip-bytes"))
	return err
}

// asUser fakes what the auth middleware installs into the context.
func asUser(id int64, username string, role model.Role) fiber.Handler {
	return func(c *fiber.Ctx) error {
		c.Locals("userId", id)
		c.Locals("username", username)
		c.Locals("role", role)
		return c.Next()
	}
}

func tasksApp(svc TaskManager, auth fiber.Handler) *fiber.App {
	return tasksAppWithMetrics(svc, auth, nil)
}

func tasksAppWithMetrics(svc TaskManager, auth fiber.Handler, m *metrics.Metrics) *fiber.App {
	app := fiber.New()
	h := NewTaskHandler(svc, validator.New(), m)
	g := app.Group("/epitopes/tasks", auth)
	g.Post("/new", h.New)
	g.Get("/user/:userId", h.ListByUser)
	g.Get("/user/:userId/status", h.ListActiveByUser)
	g.Get("/:id/log", h.Log)
	g.Get("/:id/download", h.Download)
	g.Delete("/:id", h.Delete)
	return app
}

func submitBody(t *testing.T, data string, withFile bool, filename string) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	require.NoError(t, mw.WriteField("data", data))
	if withFile {
		part, err := mw.CreateFormFile("file", filename)
		require.NoError(t, err)
		_, err = part.Write([]byte(">p1\nMKKLLPT\n"))
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())
	return &buf, mw.FormDataContentType()
}

func TestSubmitTask(t *testing.T) {
	svc := &stubTasks{}
	app := tasksApp(svc, asUser(7, "ana", model.RoleUser))

	data, err := json.Marshal(model.TaskSubmission{RunName: "demo", ActionType: model.ActionDefault})
	require.NoError(t, err)
	body, contentType := submitBody(t, string(data), true, "seqs.fasta")

	req := httptest.NewRequest("POST", "/epitopes/tasks/new", body)
	req.Header.Set("Content-Type", contentType)
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	require.Equal(t, "demo", svc.submitted.RunName)

	var out struct {
		Success bool                 `json:"success"`
		Data    model.SubmitResponse `json:"data"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	require.True(t, out.Success)
	require.Equal(t, int64(11), out.Data.TaskID)
}

func TestSubmitWithoutIdentityIsLoginExpired(t *testing.T) {
	app := tasksApp(&stubTasks{}, func(c *fiber.Ctx) error { return c.Next() })

	body, contentType := submitBody(t, `{"runName":"demo","actionType":"DEFAULT"}`, true, "seqs.fasta")
	req := httptest.NewRequest("POST", "/epitopes/tasks/new", body)
	req.Header.Set("Content-Type", contentType)

	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
	var out map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	require.Equal(t, "Login expired. Please log in again.", out["message"])
}

func TestSubmitRejectsBadExtension(t *testing.T) {
	app := tasksApp(&stubTasks{}, asUser(7, "ana", model.RoleUser))

	body, contentType := submitBody(t, `{"runName":"demo","actionType":"DEFAULT"}`, true, "seqs.exe")
	req := httptest.NewRequest("POST", "/epitopes/tasks/new", body)
	req.Header.Set("Content-Type", contentType)

	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
}

func TestSubmitRequiresFile(t *testing.T) {
	app := tasksApp(&stubTasks{}, asUser(7, "ana", model.RoleUser))

	body, contentType := submitBody(t, `{"runName":"demo","actionType":"DEFAULT"}`, false, "")
	req := httptest.NewRequest("POST", "/epitopes/tasks/new", body)
	req.Header.Set("Content-Type", contentType)

	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
}

func TestListByUserReturnsRawArray(t *testing.T) {
	svc := &stubTasks{tasks: []model.Task{
		{ID: 1, UserID: 7, Status: model.StatusRunning, SubmittedAt: time.Now()},
		{ID: 2, UserID: 7, Status: model.StatusFinished, SubmittedAt: time.Now()},
	}}
	app := tasksApp(svc, asUser(7, "ana", model.RoleUser))

	resp, err := app.Test(httptest.NewRequest("GET", "/epitopes/tasks/user/7", nil), -1)
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	var tasks []model.Task
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&tasks))
	require.Len(t, tasks, 2)
}

func TestListByUserDeniesOtherUsers(t *testing.T) {
	app := tasksApp(&stubTasks{}, asUser(7, "ana", model.RoleUser))

	resp, err := app.Test(httptest.NewRequest("GET", "/epitopes/tasks/user/8", nil), -1)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, fiber.StatusForbidden, resp.StatusCode)
}

func TestListByUserAdminSeesAnyUser(t *testing.T) {
	svc := &stubTasks{tasks: []model.Task{{ID: 1, UserID: 8}}}
	app := tasksApp(svc, asUser(7, "root", model.RoleAdmin))

	resp, err := app.Test(httptest.NewRequest("GET", "/epitopes/tasks/user/8", nil), -1)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
}

func TestActiveListFiltersTerminal(t *testing.T) {
	svc := &stubTasks{tasks: []model.Task{
		{ID: 1, UserID: 7, Status: model.StatusRunning},
		{ID: 2, UserID: 7, Status: model.StatusFinished},
	}}
	app := tasksApp(svc, asUser(7, "ana", model.RoleUser))

	resp, err := app.Test(httptest.NewRequest("GET", "/epitopes/tasks/user/7/status", nil), -1)
	require.NoError(t, err)
	defer resp.Body.Close()

	var tasks []model.Task
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&tasks))
	require.Len(t, tasks, 1)
	require.Equal(t, model.StatusRunning, tasks[0].Status)
}

func TestDeleteTask(t *testing.T) {
	svc := &stubTasks{task: &model.Task{ID: 5, UserID: 7}}
	app := tasksApp(svc, asUser(7, "ana", model.RoleUser))

	resp, err := app.Test(httptest.NewRequest("DELETE", "/epitopes/tasks/5", nil), -1)
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	require.Equal(t, int64(5), svc.deleted)

	var out map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	require.Equal(t, true, out["success"])
	require.Equal(t, "Task and all associated data deleted successfully", out["message"])
}

func TestDeleteForeignTaskDenied(t *testing.T) {
	svc := &stubTasks{task: &model.Task{ID: 5, UserID: 8}}
	app := tasksApp(svc, asUser(7, "ana", model.RoleUser))

	resp, err := app.Test(httptest.NewRequest("DELETE", "/epitopes/tasks/5", nil), -1)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, fiber.StatusForbidden, resp.StatusCode)
	require.Zero(t, svc.deleted)
}

func TestTaskLogPlainText(t *testing.T) {
	svc := &stubTasks{task: &model.Task{ID: 5, UserID: 7}, logText: "pipeline started\n"}
	app := tasksApp(svc, asUser(7, "ana", model.RoleUser))

	resp, err := app.Test(httptest.NewRequest("GET", "/epitopes/tasks/5/log", nil), -1)
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	b, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.Equal(t, "pipeline started\n", string(b))
}

func TestTaskLogMissing(t *testing.T) {
	svc := &stubTasks{task: &model.Task{ID: 5, UserID: 7}}
	app := tasksApp(svc, asUser(7, "ana", model.RoleUser))

	resp, err := app.Test(httptest.NewRequest("GET", "/epitopes/tasks/5/log", nil), -1)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, fiber.StatusNotFound, resp.StatusCode)
}

func TestDownloadSetsDisposition(t *testing.T) {
	svc := &stubTasks{task: &model.Task{ID: 5, UserID: 7, RunName: "demo"}}
	app := tasksApp(svc, asUser(7, "ana", model.RoleUser))

	resp, err := app.Test(httptest.NewRequest("GET", "/epitopes/tasks/5/download", nil), -1)
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	require.Contains(t, resp.Header.Get("Content-Disposition"), ".zip")

	b, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.Equal(t, "zip-bytes", string(b))
}

func TestUnknownTaskIs404(t *testing.T) {
	app := tasksApp(&stubTasks{}, asUser(7, "ana", model.RoleUser))

	resp, err := app.Test(httptest.NewRequest("GET", "/epitopes/tasks/99/log", nil), -1)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, fiber.StatusNotFound, resp.StatusCode)
}

func TestSubmitTaskCountsSubmissions(t *testing.T) {
	m := metrics.New()
	app := tasksAppWithMetrics(&stubTasks{}, asUser(7, "ana", model.RoleUser), m)

	data, err := json.Marshal(model.TaskSubmission{RunName: "demo", ActionType: model.ActionDefault})
	require.NoError(t, err)
	body, contentType := submitBody(t, string(data), true, "seqs.fasta")

	req := httptest.NewRequest("POST", "/epitopes/tasks/new", body)
	req.Header.Set("Content-Type", contentType)
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, fiber.StatusOK, resp.StatusCode)

	require.Equal(t, 1.0, testutil.ToFloat64(m.TasksSubmitted))

	// A rejected submission must not count.
	body, contentType = submitBody(t, "not-json", true, "seqs.fasta")
	req = httptest.NewRequest("POST", "/epitopes/tasks/new", body)
	req.Header.Set("Content-Type", contentType)
	resp, err = app.Test(req, -1)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, fiber.StatusBadRequest, resp.StatusCode)

	require.Equal(t, 1.0, testutil.ToFloat64(m.TasksSubmitted))
}
