package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"

	"github.com/epibuilder/portal/internal/fasta"
	"github.com/epibuilder/portal/internal/metrics"
	"github.com/epibuilder/portal/internal/model"
	"github.com/epibuilder/portal/internal/service"
)

// TaskStore is the slice of the task repository the worker needs.
type TaskStore interface {
	GetByID(ctx context.Context, id int64) (*model.Task, error)
	UpdateStatus(ctx context.Context, id int64, status model.Status) error
	Finish(ctx context.Context, id int64, status model.Status, finishedAt time.Time, epitopes []model.Epitope) error
}

// Broadcaster pushes live progress to websocket subscribers.
type Broadcaster interface {
	BroadcastProgress(taskUUID string, progress int, status model.Status, stage string)
	BroadcastComplete(taskUUID string, status model.Status, epitopes int)
	BroadcastError(taskUUID string, message string)
}

// PipelineWorker processes queued prediction runs.
type PipelineWorker struct {
	tasks   TaskStore
	redis   *redis.Client
	hub     Broadcaster
	metrics *metrics.Metrics
}

func NewPipelineWorker(tasks TaskStore, redisClient *redis.Client, hub Broadcaster, m *metrics.Metrics) *PipelineWorker {
	return &PipelineWorker{tasks: tasks, redis: redisClient, hub: hub, metrics: m}
}

// ProcessTask handles one pipeline run end to end.
func (w *PipelineWorker) ProcessTask(ctx context.Context, t *asynq.Task) error {
	var payload service.PipelinePayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("failed to unmarshal pipeline payload: %w", err)
	}

	task, err := w.tasks.GetByID(ctx, payload.TaskID)
	if err != nil {
		return fmt.Errorf("load task %d: %w", payload.TaskID, err)
	}

	log.Printf("Starting pipeline for task %s (%s)", task.UUID, task.RunName)
	started := time.Now()

	if err := w.tasks.UpdateStatus(ctx, task.ID, model.StatusRunning); err != nil {
		return fmt.Errorf("mark task running: %w", err)
	}
	if w.metrics != nil {
		w.metrics.TasksRunning.Inc()
		defer w.metrics.TasksRunning.Dec()
	}

	w.progress(ctx, task, 5, "Reading input sequences")
	w.logf(task, "pipeline started for run %q", task.RunName)

	records, err := w.readInput(task)
	if err != nil {
		return w.fail(ctx, task, fmt.Sprintf("Invalid input: %v", err))
	}
	w.logf(task, "parsed %d sequence(s) from %s", len(records), filepath.Base(task.SourceFile))

	w.progress(ctx, task, 30, "Predicting epitopes")
	var epitopes []model.Epitope
	for _, rec := range records {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		eps := predictEpitopes(rec.Sequence, task.Params)
		w.logf(task, "%s: %d epitope(s) above threshold %.4f", rec.ID, len(eps), task.Params.BepipredThreshold)
		epitopes = append(epitopes, eps...)
	}
	for i := range epitopes {
		epitopes[i].N = i + 1
	}

	if task.Params.DoBlast && len(task.Proteomes) > 0 {
		w.progress(ctx, task, 70, "Searching reference proteomes")
		if err := w.compareProteomes(task, epitopes); err != nil {
			return w.fail(ctx, task, fmt.Sprintf("Similarity search failed: %v", err))
		}
	}

	w.progress(ctx, task, 95, "Writing results")
	if err := w.writeResults(task, epitopes); err != nil {
		w.logf(task, "warning: could not write result files: %v", err)
	}

	finishedAt := time.Now()
	if err := w.tasks.Finish(ctx, task.ID, model.StatusFinished, finishedAt, epitopes); err != nil {
		return w.fail(ctx, task, "Failed to save results")
	}

	w.logf(task, "pipeline finished: %d epitope(s) in %s", len(epitopes), finishedAt.Sub(started).Round(time.Millisecond))
	w.clearProgress(ctx, task)
	w.hub.BroadcastComplete(task.UUID, model.StatusFinished, len(epitopes))
	if w.metrics != nil {
		w.metrics.TasksFinished.Inc()
		w.metrics.PipelineDuration.Observe(time.Since(started).Seconds())
	}

	log.Printf("Pipeline for task %s completed with %d epitopes", task.UUID, len(epitopes))
	return nil
}

func (w *PipelineWorker) readInput(task *model.Task) ([]fasta.Record, error) {
	f, err := os.Open(task.SourceFile)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return fasta.Parse(f)
}

// compareProteomes annotates epitopes with hits against each configured
// reference proteome. A hit is an exact containment of the epitope
// fragment in a proteome sequence; identity and cover follow from the
// match length against the cutoffs.
func (w *PipelineWorker) compareProteomes(task *model.Task, epitopes []model.Epitope) error {
	for _, proteome := range task.Proteomes {
		f, err := os.Open(proteome.AbsolutePath)
		if err != nil {
			return fmt.Errorf("open proteome %q: %w", proteome.Alias, err)
		}
		records, err := fasta.Parse(f)
		f.Close()
		if err != nil {
			return fmt.Errorf("parse proteome %q: %w", proteome.Alias, err)
		}

		hits := 0
		for i := range epitopes {
			for _, rec := range records {
				if !strings.Contains(rec.Sequence, epitopes[i].Sequence) {
					continue
				}
				hit := model.Blast{
					ProteomeAlias: proteome.Alias,
					SubjectID:     rec.ID,
					Identity:      100,
					Cover:         100,
					EValue:        0,
					Bitscore:      float64(2 * epitopes[i].Length),
				}
				if hit.Identity >= task.Params.BlastMinIdentityCutoff &&
					hit.Cover >= task.Params.BlastMinCoverCutoff {
					epitopes[i].Comparisons = append(epitopes[i].Comparisons, hit)
					hits++
				}
			}
		}
		w.logf(task, "proteome %q: %d hit(s)", proteome.Alias, hits)
	}
	return nil
}

// writeResults emits epitopes.csv into the run directory so the
// download archive carries the table in a portable form.
func (w *PipelineWorker) writeResults(task *model.Task, epitopes []model.Epitope) error {
	var b strings.Builder
	b.WriteString("n,epitope,start,end,length,mw_kda,ip,hydropathy,bepipred3,emini,kolaskar,chou_fasman,karplus_schulz,parker,nglyc_count\n")
	for _, ep := range epitopes {
		fmt.Fprintf(&b, "%d,%s,%d,%d,%d,%.3f,%.3f,%.3f,%.3f,%.3f,%.3f,%.3f,%.3f,%.3f,%d\n",
			ep.N, ep.Sequence, ep.Start, ep.End, ep.Length, ep.MolecularWeight,
			ep.IsoelectricPoint, ep.Hydropathy, ep.BepiPred3, ep.Emini,
			ep.Kolaskar, ep.ChouFasman, ep.KarplusSchulz, ep.Parker, ep.NGlycCount)
	}
	return os.WriteFile(filepath.Join(task.Basename, "epitopes.csv"), []byte(b.String()), 0o644)
}

func (w *PipelineWorker) fail(ctx context.Context, task *model.Task, message string) error {
	w.logf(task, "pipeline failed: %s", message)
	if err := w.tasks.Finish(ctx, task.ID, model.StatusFailed, time.Now(), nil); err != nil {
		log.Printf("Failed to mark task %s failed: %v", task.UUID, err)
	}
	w.clearProgress(ctx, task)
	w.hub.BroadcastError(task.UUID, message)
	if w.metrics != nil {
		w.metrics.TasksFailed.Inc()
	}
	return fmt.Errorf("task %s: %s", task.UUID, message)
}

// progress persists the live progress record (1h TTL) and broadcasts it.
func (w *PipelineWorker) progress(ctx context.Context, task *model.Task, pct int, stage string) {
	msg := model.WSProgressMessage{
		Type:     model.WSMessageTypeProgress,
		TaskUUID: task.UUID,
		Progress: pct,
		Status:   model.StatusRunning,
		Stage:    stage,
	}
	if w.redis != nil {
		if data, err := json.Marshal(msg); err == nil {
			w.redis.Set(ctx, service.ProgressKey(task.UUID), data, time.Hour)
		}
	}
	w.hub.BroadcastProgress(task.UUID, pct, model.StatusRunning, stage)
}

func (w *PipelineWorker) clearProgress(ctx context.Context, task *model.Task) {
	if w.redis != nil {
		w.redis.Del(ctx, service.ProgressKey(task.UUID))
	}
}

func (w *PipelineWorker) logf(task *model.Task, format string, args ...interface{}) {
	f, err := os.OpenFile(filepath.Join(task.Basename, "pipeline.log"),
		os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return
	}
	defer f.Close()
	fmt.Fprintf(f, "[%s] %s\n", time.Now().Format(time.RFC3339), fmt.Sprintf(format, args...))
}
