package service

import (
	"archive/zip"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"

	"github.com/epibuilder/portal/internal/fasta"
	"github.com/epibuilder/portal/internal/model"
	"github.com/epibuilder/portal/internal/storage"
)

// Asynq task type for pipeline runs.
const TaskTypePipeline = "pipeline:run"

// PipelinePayload is the asynq payload enqueued per submission.
type PipelinePayload struct {
	TaskID   int64  `json:"taskId"`
	TaskUUID string `json:"taskUuid"`
}

var (
	ErrTaskNotFound = errors.New("task not found")
	ErrLogNotFound  = errors.New("log file not found")
	ErrProteomeRef  = errors.New("invalid proteome reference")
)

// TaskService owns the submission workflow and task queries.
type TaskService struct {
	tasks     *storage.TaskRepository
	databases *storage.DatabaseRepository
	redis     *redis.Client
	asynq     *asynq.Client
	workDir   string
}

func NewTaskService(tasks *storage.TaskRepository, databases *storage.DatabaseRepository,
	redisClient *redis.Client, asynqClient *asynq.Client, workDir string) *TaskService {
	return &TaskService{
		tasks:     tasks,
		databases: databases,
		redis:     redisClient,
		asynq:     asynqClient,
		workDir:   workDir,
	}
}

// Submit stores the uploaded files under a fresh run directory, creates
// the PENDING task row, and enqueues the pipeline job.
func (s *TaskService) Submit(ctx context.Context, user *model.User, sub *model.TaskSubmission,
	fastaFile *multipart.FileHeader, proteomeFiles []*multipart.FileHeader) (*model.Task, error) {

	sub.Normalize()

	baseDir, err := s.prepareBaseDir(user.Username, sub.RunName)
	if err != nil {
		return nil, fmt.Errorf("prepare run directory: %w", err)
	}

	fastaPath, err := saveUpload(baseDir, fastaFile)
	if err != nil {
		return nil, fmt.Errorf("save sequence file: %w", err)
	}

	proteomes, err := s.resolveProteomes(ctx, sub, baseDir, proteomeFiles)
	if err != nil {
		return nil, err
	}

	task := &model.Task{
		UUID:        uuid.New().String(),
		UserID:      user.ID,
		RunName:     sub.RunName,
		Status:      model.StatusPending,
		SubmittedAt: time.Now(),
		SourceFile:  fastaPath,
		Basename:    baseDir,
		Params: model.TaskParams{
			ActionType:             sub.ActionType,
			BepipredThreshold:      sub.BepipredThreshold,
			MinEpitopeLength:       sub.MinEpitopeLength,
			MaxEpitopeLength:       sub.MaxEpitopeLength,
			DoBlast:                sub.DoBlast,
			BlastMinIdentityCutoff: sub.BlastMinIdentityCutoff,
			BlastMinCoverCutoff:    sub.BlastMinCoverCutoff,
			BlastWordSize:          sub.BlastWordSize,
		},
		Proteomes: proteomes,
	}

	if task, err = s.tasks.Create(ctx, task); err != nil {
		return nil, fmt.Errorf("save task: %w", err)
	}

	payload, err := json.Marshal(PipelinePayload{TaskID: task.ID, TaskUUID: task.UUID})
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}

	_, err = s.asynq.Enqueue(asynq.NewTask(TaskTypePipeline, payload),
		asynq.Queue("pipeline"),
		asynq.MaxRetry(1),
		asynq.Retention(24*time.Hour),
	)
	if err != nil {
		return nil, fmt.Errorf("enqueue pipeline job: %w", err)
	}

	appendLog(baseDir, fmt.Sprintf("task %s queued (%d sequences)", task.UUID, countSequences(fastaPath)))
	return task, nil
}

func (s *TaskService) ListByUser(ctx context.Context, userID int64) ([]model.Task, error) {
	return s.tasks.ListByUser(ctx, userID)
}

func (s *TaskService) ListActiveByUser(ctx context.Context, userID int64) ([]model.Task, error) {
	return s.tasks.ListActiveByUser(ctx, userID)
}

func (s *TaskService) Get(ctx context.Context, id int64) (*model.Task, error) {
	task, err := s.tasks.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, ErrTaskNotFound
		}
		return nil, err
	}
	return task, nil
}

// Delete removes the task row and its working directory.
func (s *TaskService) Delete(ctx context.Context, id int64) error {
	task, err := s.Get(ctx, id)
	if err != nil {
		return err
	}

	if err := s.tasks.Delete(ctx, id); err != nil {
		return fmt.Errorf("delete task: %w", err)
	}

	if task.Basename != "" {
		if err := os.RemoveAll(task.Basename); err != nil {
			return fmt.Errorf("delete task files: %w", err)
		}
	}
	return nil
}

// Log returns the pipeline log text for the task.
func (s *TaskService) Log(ctx context.Context, id int64) (string, error) {
	task, err := s.Get(ctx, id)
	if err != nil {
		return "", err
	}

	data, err := os.ReadFile(filepath.Join(task.Basename, "pipeline.log"))
	if err != nil {
		if os.IsNotExist(err) {
			return "", ErrLogNotFound
		}
		return "", fmt.Errorf("read log: %w", err)
	}
	return string(data), nil
}

// Progress returns the live progress record the worker keeps in redis,
// or nil when none exists (task not started, or record expired).
func (s *TaskService) Progress(ctx context.Context, taskUUID string) (*model.WSProgressMessage, error) {
	data, err := s.redis.Get(ctx, progressKey(taskUUID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("read progress: %w", err)
	}

	var msg model.WSProgressMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("unmarshal progress: %w", err)
	}
	return &msg, nil
}

// ZipName is the download filename hint for the task archive.
func ZipName(task *model.Task) string {
	return filepath.Base(task.Basename) + ".zip"
}

// WriteZip streams the task's working directory as a zip archive.
func (s *TaskService) WriteZip(task *model.Task, w io.Writer) error {
	info, err := os.Stat(task.Basename)
	if err != nil || !info.IsDir() {
		return ErrTaskNotFound
	}

	zw := zip.NewWriter(w)
	defer zw.Close()

	return filepath.Walk(task.Basename, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}

		rel, err := filepath.Rel(task.Basename, path)
		if err != nil {
			return err
		}

		entry, err := zw.Create(filepath.ToSlash(rel))
		if err != nil {
			return err
		}

		f, err := os.Open(path)
		if err != nil {
			return err
		}
		defer f.Close()

		_, err = io.Copy(entry, f)
		return err
	})
}

func (s *TaskService) prepareBaseDir(username, runName string) (string, error) {
	timestamp := time.Now().Format("20060102_150405")
	baseDir := filepath.Join(s.workDir, username, fmt.Sprintf("%s_%s", runName, timestamp))
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return "", err
	}
	return baseDir, nil
}

// resolveProteomes turns submission proteome references into concrete
// database entries: registered databases are looked up, uploaded FASTA
// files are consumed in order and stored under the run directory.
func (s *TaskService) resolveProteomes(ctx context.Context, sub *model.TaskSubmission,
	baseDir string, files []*multipart.FileHeader) ([]model.Database, error) {

	if !sub.DoBlast || len(sub.Proteomes) == 0 {
		return nil, nil
	}

	proteomesDir := filepath.Join(baseDir, "proteomes")
	if err := os.MkdirAll(proteomesDir, 0o755); err != nil {
		return nil, fmt.Errorf("prepare proteomes directory: %w", err)
	}

	var (
		resolved  []model.Database
		fileIndex int
	)
	for _, ref := range sub.Proteomes {
		switch ref.SourceType {
		case model.SourceDatabase:
			db, err := s.databases.GetByID(ctx, ref.DatabaseID)
			if err != nil {
				if errors.Is(err, storage.ErrNotFound) {
					return nil, fmt.Errorf("%w: database %d not found", ErrProteomeRef, ref.DatabaseID)
				}
				return nil, err
			}
			if ref.Alias != "" {
				db.Alias = ref.Alias
			}
			resolved = append(resolved, *db)

		case model.SourceFastaBlast:
			if fileIndex >= len(files) {
				return nil, fmt.Errorf("%w: no file provided for %q", ErrProteomeRef, ref.Alias)
			}
			fh := files[fileIndex]
			fileIndex++

			path, err := saveUpload(proteomesDir, fh)
			if err != nil {
				return nil, fmt.Errorf("save proteome file: %w", err)
			}

			now := time.Now()
			alias := ref.Alias
			if alias == "" {
				alias = fh.Filename
			}
			resolved = append(resolved, model.Database{
				Alias:        alias,
				FileName:     filepath.Base(path),
				AbsolutePath: path,
				SourceType:   model.SourceFastaBlast,
				Date:         &now,
			})

		default:
			return nil, fmt.Errorf("%w: unknown source type %q", ErrProteomeRef, ref.SourceType)
		}
	}
	return resolved, nil
}

func saveUpload(dir string, fh *multipart.FileHeader) (string, error) {
	// Sanitize: keep only the base name of whatever the client sent.
	path := filepath.Join(dir, filepath.Base(fh.Filename))

	src, err := fh.Open()
	if err != nil {
		return "", err
	}
	defer src.Close()

	dst, err := os.Create(path)
	if err != nil {
		return "", err
	}
	defer dst.Close()

	if _, err := io.Copy(dst, src); err != nil {
		return "", err
	}
	return path, nil
}

// countSequences is best-effort log detail; a read failure counts as 0.
func countSequences(path string) int {
	f, err := os.Open(path)
	if err != nil {
		return 0
	}
	defer f.Close()
	n, err := fasta.Count(f)
	if err != nil {
		return 0
	}
	return n
}

func appendLog(baseDir, line string) {
	f, err := os.OpenFile(filepath.Join(baseDir, "pipeline.log"),
		os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return
	}
	defer f.Close()
	fmt.Fprintf(f, "[%s] %s\n", time.Now().Format(time.RFC3339), line)
}

func progressKey(taskUUID string) string {
	return "task:progress:" + taskUUID
}

// ProgressKey exposes the redis key layout to the worker.
func ProgressKey(taskUUID string) string { return progressKey(taskUUID) }
