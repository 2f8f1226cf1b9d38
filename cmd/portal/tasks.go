package main

import (
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/epibuilder/portal/internal/model"
	"github.com/epibuilder/portal/internal/portal/guard"
	"github.com/epibuilder/portal/internal/portal/monitor"
	"github.com/epibuilder/portal/internal/portal/view"
)

var tasksCmd = &cobra.Command{
	Use:   "tasks",
	Short: "Manage prediction runs",
}

var tasksListCmd = &cobra.Command{
	Use:   "list",
	Short: "List your runs",
	RunE:  runTasksList,
}

var tasksWatchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Watch your runs live until interrupted",
	RunE:  runTasksWatch,
}

var tasksSubmitCmd = &cobra.Command{
	Use:   "submit <sequences.fasta>",
	Short: "Submit a new prediction run",
	Args:  cobra.ExactArgs(1),
	RunE:  runTasksSubmit,
}

var tasksLogCmd = &cobra.Command{
	Use:   "log <task-id>",
	Short: "Show a run's pipeline log",
	Args:  cobra.ExactArgs(1),
	RunE:  runTasksLog,
}

var tasksDownloadCmd = &cobra.Command{
	Use:   "download <task-id>",
	Short: "Download a run's result archive",
	Args:  cobra.ExactArgs(1),
	RunE:  runTasksDownload,
}

var tasksDeleteCmd = &cobra.Command{
	Use:   "delete <task-id>",
	Short: "Delete a run and its files",
	Args:  cobra.ExactArgs(1),
	RunE:  runTasksDelete,
}

var tasksResultsCmd = &cobra.Command{
	Use:   "results <task-id>",
	Short: "Show a run's epitope table",
	Args:  cobra.ExactArgs(1),
	RunE:  runTasksResults,
}

var (
	submitRunName    string
	submitAction     string
	submitThreshold  float64
	submitMinLength  int
	submitMaxLength  int
	submitDatabases  []string
	submitProteomes  []string
	activeOnly       bool
	downloadDir      string
	resultsSearch    string
	resultsSortCol   string
	resultsSortDesc  bool
)

func init() {
	tasksCmd.AddCommand(tasksListCmd, tasksWatchCmd, tasksSubmitCmd,
		tasksLogCmd, tasksDownloadCmd, tasksDeleteCmd, tasksResultsCmd)

	tasksListCmd.Flags().BoolVar(&activeOnly, "active", false, "only runs still pending or running")
	tasksWatchCmd.Flags().BoolVar(&activeOnly, "active", false, "only runs still pending or running")

	tasksSubmitCmd.Flags().StringVar(&submitRunName, "name", "", "run name (required)")
	tasksSubmitCmd.Flags().StringVar(&submitAction, "action", "DEFAULT", "DEFAULT or CUSTOMIZED parameters")
	tasksSubmitCmd.Flags().Float64Var(&submitThreshold, "threshold", model.DefaultBepipredThreshold, "BepiPred threshold (CUSTOMIZED only)")
	tasksSubmitCmd.Flags().IntVar(&submitMinLength, "min-length", model.DefaultMinEpitopeLength, "minimum epitope length (CUSTOMIZED only)")
	tasksSubmitCmd.Flags().IntVar(&submitMaxLength, "max-length", model.DefaultMaxEpitopeLength, "maximum epitope length (CUSTOMIZED only)")
	tasksSubmitCmd.Flags().StringSliceVar(&submitDatabases, "db", nil, "compare against a registered proteome database (id:alias)")
	tasksSubmitCmd.Flags().StringSliceVar(&submitProteomes, "proteome", nil, "compare against an uploaded proteome FASTA file")
	tasksSubmitCmd.MarkFlagRequired("name")

	tasksDownloadCmd.Flags().StringVar(&downloadDir, "dir", ".", "directory to write the archive into")

	tasksResultsCmd.Flags().StringVar(&resultsSearch, "search", "", "case-insensitive filter over all columns")
	tasksResultsCmd.Flags().StringVar(&resultsSortCol, "sort", "", "column to sort by")
	tasksResultsCmd.Flags().BoolVar(&resultsSortDesc, "desc", false, "sort descending")
}

func runTasksList(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.close()
	if err := a.enter("", guard.HomePage); err != nil {
		return err
	}

	id := a.session.Current()
	tasks := a.dir.TasksForUser(cmd.Context(), id.ID, activeOnly)
	printTasks(cmd, tasks, nil)
	return nil
}

func runTasksWatch(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.close()
	if err := a.enter("", guard.HomePage); err != nil {
		return err
	}

	id := a.session.Current()
	mon := monitor.New(a.dir, a.api, monitor.TickerScheduler{}, id.ID, a.log)
	mon.OnlyActive(activeOnly)

	notices := newNoticeTracker(5 * time.Second)
	mon.OnChange(func(s monitor.Snapshot) {
		fmt.Fprint(cmd.OutOrStdout(), "\033[H\033[2J") // clear screen
		printTasks(cmd, s.Tasks, s.Elapsed)
		if msg := notices.observe(s.Tasks, time.Now()); msg != "" {
			fmt.Fprintln(cmd.OutOrStdout(), msg)
		}
	})

	mon.Start(cmd.Context())
	defer mon.Stop()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	return nil
}

func runTasksSubmit(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.close()
	if err := a.enter("", guard.LandingPage); err != nil {
		return err
	}

	sub := &model.TaskSubmission{
		RunName:           submitRunName,
		ActionType:        model.ActionType(strings.ToUpper(submitAction)),
		BepipredThreshold: submitThreshold,
		MinEpitopeLength:  submitMinLength,
		MaxEpitopeLength:  submitMaxLength,
	}

	for _, ref := range submitDatabases {
		dbID, alias, ok := strings.Cut(ref, ":")
		if !ok {
			return fmt.Errorf("bad --db value %q, want id:alias", ref)
		}
		n, err := strconv.ParseInt(dbID, 10, 64)
		if err != nil {
			return fmt.Errorf("bad --db id %q", dbID)
		}
		sub.Proteomes = append(sub.Proteomes, model.ProteomeRef{
			SourceType: model.SourceDatabase,
			DatabaseID: n,
			Alias:      alias,
		})
	}
	for _, path := range submitProteomes {
		sub.Proteomes = append(sub.Proteomes, model.ProteomeRef{
			SourceType:   model.SourceFastaBlast,
			OriginalName: path,
		})
	}
	sub.DoBlast = len(sub.Proteomes) > 0
	sub.Normalize()

	resp, err := a.api.SubmitTask(cmd.Context(), sub, args[0], submitProteomes)
	if err != nil {
		return a.apiError(cmd.Context(), err)
	}
	a.dir.NotifyListChanged()
	fmt.Fprintf(cmd.OutOrStdout(), "Submitted task %d (%s)\n", resp.TaskID, resp.UUID)
	return nil
}

func runTasksLog(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.close()
	if err := a.enter("", guard.HomePage); err != nil {
		return err
	}

	taskID, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		return fmt.Errorf("bad task id %q", args[0])
	}
	text, err := a.api.TaskLog(cmd.Context(), taskID)
	if err != nil {
		return a.apiError(cmd.Context(), err)
	}
	fmt.Fprint(cmd.OutOrStdout(), text)
	return nil
}

func runTasksDownload(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.close()
	if err := a.enter("", guard.HomePage); err != nil {
		return err
	}

	taskID, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		return fmt.Errorf("bad task id %q", args[0])
	}
	task, err := findTask(cmd, a, taskID)
	if err != nil {
		return err
	}

	path, err := a.api.DownloadTask(cmd.Context(), task, downloadDir)
	if err != nil {
		return a.apiError(cmd.Context(), err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s\n", path)
	return nil
}

func runTasksDelete(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.close()
	if err := a.enter("", guard.HomePage); err != nil {
		return err
	}

	taskID, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		return fmt.Errorf("bad task id %q", args[0])
	}
	if err := a.api.DeleteTask(cmd.Context(), taskID); err != nil {
		return a.apiError(cmd.Context(), err)
	}
	a.dir.NotifyListChanged()
	fmt.Fprintln(cmd.OutOrStdout(), "Task and all associated data deleted successfully")
	return nil
}

func runTasksResults(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.close()
	if err := a.enter("", guard.HomePage); err != nil {
		return err
	}

	taskID, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		return fmt.Errorf("bad task id %q", args[0])
	}
	task, err := findTask(cmd, a, taskID)
	if err != nil {
		return err
	}

	table := view.NewTable(a.slot)
	table.SetTask(task)
	table.SetSearch(resultsSearch)
	if resultsSortCol != "" {
		table.SortBy(resultsSortCol)
		if resultsSortDesc {
			table.SortBy(resultsSortCol) // second click flips direction
		}
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "N\tEPITOPE\tSTART\tEND\tLEN\tMW(kDa)\tpI\tBEPIPRED3\tNGLYC")
	for _, row := range table.VisibleRows() {
		fmt.Fprintf(w, "%d\t%s\t%d\t%d\t%d\t%.3f\t%.3f\t%.3f\t%s\n",
			row.N, row.Sequence, row.Start, row.End, row.Length,
			row.MolecularWeight, row.IsoelectricPoint, row.BepiPred3, row.NGlyc)
	}
	return w.Flush()
}

// noticeTracker turns status transitions into a short-lived message for
// the watch view. A run reaching a terminal state produces a notice
// that observe keeps returning until ttl passes.
type noticeTracker struct {
	ttl         time.Duration
	lastStatus  map[int64]model.Status
	notice      string
	noticeUntil time.Time
}

func newNoticeTracker(ttl time.Duration) *noticeTracker {
	return &noticeTracker{ttl: ttl, lastStatus: map[int64]model.Status{}}
}

func (n *noticeTracker) observe(tasks []model.Task, now time.Time) string {
	for _, t := range tasks {
		prev, seen := n.lastStatus[t.ID]
		if seen && prev != t.Status && t.Status.Terminal() {
			n.notice = fmt.Sprintf("Run %q %s.", t.RunName, strings.ToLower(string(t.Status)))
			n.noticeUntil = now.Add(n.ttl)
		}
		n.lastStatus[t.ID] = t.Status
	}
	if n.notice != "" && now.Before(n.noticeUntil) {
		return n.notice
	}
	return ""
}

// findTask locates a task by id in the user's directory listing.
func findTask(cmd *cobra.Command, a *app, taskID int64) (*model.Task, error) {
	id := a.session.Current()
	for _, t := range a.dir.TasksForUser(cmd.Context(), id.ID, false) {
		if t.ID == taskID {
			return &t, nil
		}
	}
	return nil, fmt.Errorf("task %d not found", taskID)
}

func printTasks(cmd *cobra.Command, tasks []model.Task, elapsed map[int64]string) {
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tRUN\tSTATUS\tSUBMITTED\tELAPSED")
	for _, t := range tasks {
		e := elapsed[t.ID]
		if elapsed == nil {
			end := time.Now()
			if t.Status.Terminal() && t.FinishedAt != nil {
				end = *t.FinishedAt
			}
			e = monitor.FormatElapsed(end.Sub(t.SubmittedAt))
		}
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\n",
			t.ID, t.RunName, t.Status, t.SubmittedAt.Format("2006-01-02 15:04:05"), e)
	}
	w.Flush()
}
