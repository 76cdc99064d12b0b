package coordinator

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"path"
	"strings"

	"github.com/viant/afs"
	"github.com/viant/afs/file"
	"github.com/viant/afs/option"

	"github.com/tripcast/tripcast/model"
	"github.com/tripcast/tripcast/model/step"
	"github.com/tripcast/tripcast/runtime/memmon"
)

const (
	requestName = "request.json"
	resultName  = "result.json"
	inputDir    = "input"
	outputDir   = "output"
)

type workerRequest struct {
	Step string `json:"step"`
}

type workerResult struct {
	PeakUsed int64 `json:"peakUsed"`
}

// SubprocessLauncher runs each worker as an OS process with its own address
// space. Partition tables and results are handed over through a per-worker
// work directory; the child binary calls WorkerMain against it.
type SubprocessLauncher struct {
	// Command and Args name the worker binary invocation; the work
	// directory is appended as the final argument.
	Command string
	Args    []string

	// WorkDir is the parent directory for per-worker handoff directories.
	WorkDir string

	fs afs.Service
}

// NewSubprocessLauncher creates a launcher executing command for every
// worker.
func NewSubprocessLauncher(command string, args []string, workDir string) (*SubprocessLauncher, error) {
	if command == "" {
		return nil, fmt.Errorf("worker command cannot be empty")
	}
	if workDir == "" {
		return nil, fmt.Errorf("worker work directory cannot be empty")
	}
	return &SubprocessLauncher{Command: command, Args: args, WorkDir: workDir, fs: afs.New()}, nil
}

// Launch writes the task to the worker's directory, runs the worker process
// and reads its results. A non-zero exit, a timeout or a missing result is a
// worker failure.
func (l *SubprocessLauncher) Launch(ctx context.Context, workerID string, task *Task) (*Result, error) {
	dir := path.Join(l.WorkDir, "worker-"+workerID)
	if err := l.writeTask(ctx, dir, task); err != nil {
		return nil, err
	}
	defer func() {
		_ = l.fs.Delete(context.Background(), dir)
	}()

	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, l.Command, append(append([]string(nil), l.Args...), dir)...)
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		detail := strings.TrimSpace(stderr.String())
		if detail != "" {
			return nil, fmt.Errorf("worker process failed: %w: %s", err, detail)
		}
		return nil, fmt.Errorf("worker process failed: %w", err)
	}
	return l.readResult(ctx, dir)
}

func (l *SubprocessLauncher) writeTask(ctx context.Context, dir string, task *Task) error {
	request, err := json.Marshal(workerRequest{Step: task.Step.Name})
	if err != nil {
		return err
	}
	if err := l.fs.Upload(ctx, path.Join(dir, requestName), file.DefaultFileOsMode, bytes.NewReader(request)); err != nil {
		return fmt.Errorf("failed to write worker request: %w", err)
	}
	inputs := make(model.Tables, len(task.Shared)+2)
	for name, table := range task.Shared {
		inputs[name] = table
	}
	inputs[model.TableHouseholds] = task.Partition.Population.Households
	inputs[model.TablePersons] = task.Partition.Population.Persons
	return writeTables(ctx, l.fs, path.Join(dir, inputDir), inputs)
}

func (l *SubprocessLauncher) readResult(ctx context.Context, dir string) (*Result, error) {
	data, err := l.fs.DownloadWithURL(ctx, path.Join(dir, resultName))
	if err != nil {
		return nil, fmt.Errorf("worker produced no result: %w", err)
	}
	var result workerResult
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, fmt.Errorf("failed to unmarshal worker result: %w", err)
	}
	tables, err := readTables(ctx, l.fs, path.Join(dir, outputDir))
	if err != nil {
		return nil, err
	}
	return &Result{Tables: tables, PeakUsed: result.PeakUsed}, nil
}

// WorkerMain is the child-process entry point: it reads the task from dir,
// executes the step against the handed-over tables and writes results back.
// The host binary maps a non-nil return to a non-zero exit status.
func WorkerMain(ctx context.Context, registry *step.Registry, dir string) error {
	fs := afs.New()
	data, err := fs.DownloadWithURL(ctx, path.Join(dir, requestName))
	if err != nil {
		return fmt.Errorf("failed to read worker request: %w", err)
	}
	var request workerRequest
	if err := json.Unmarshal(data, &request); err != nil {
		return fmt.Errorf("failed to unmarshal worker request: %w", err)
	}
	bound, err := registry.Resolve([]string{request.Step})
	if err != nil {
		return err
	}
	inputs, err := readTables(ctx, fs, path.Join(dir, inputDir))
	if err != nil {
		return err
	}

	monitor := memmon.New(0)
	monitor.Mark("worker " + request.Step)
	outputs, err := bound[0].Func(ctx, inputs)
	if err != nil {
		return fmt.Errorf("step %s: %w", request.Step, err)
	}
	record := monitor.Mark("worker " + request.Step)

	if err := writeTables(ctx, fs, path.Join(dir, outputDir), outputs); err != nil {
		return err
	}
	result, err := json.Marshal(workerResult{PeakUsed: record.Used})
	if err != nil {
		return err
	}
	return fs.Upload(ctx, path.Join(dir, resultName), file.DefaultFileOsMode, bytes.NewReader(result))
}

func writeTables(ctx context.Context, fs afs.Service, dir string, tables model.Tables) error {
	for _, name := range tables.Names() {
		data, err := json.Marshal(tables[name])
		if err != nil {
			return fmt.Errorf("failed to marshal table %s: %w", name, err)
		}
		if err := fs.Upload(ctx, path.Join(dir, name+".json"), file.DefaultFileOsMode, bytes.NewReader(data)); err != nil {
			return fmt.Errorf("failed to write table %s: %w", name, err)
		}
	}
	return nil
}

func readTables(ctx context.Context, fs afs.Service, dir string) (model.Tables, error) {
	exists, err := fs.Exists(ctx, dir)
	if err != nil {
		return nil, fmt.Errorf("failed to check table directory %s: %w", dir, err)
	}
	if !exists {
		return model.Tables{}, nil
	}
	objects, err := fs.List(ctx, dir, option.NewRecursive(false))
	if err != nil {
		return nil, fmt.Errorf("failed to list table directory %s: %w", dir, err)
	}
	tables := model.Tables{}
	for _, object := range objects {
		if object.IsDir() || !strings.HasSuffix(object.Name(), ".json") {
			continue
		}
		data, err := fs.Download(ctx, object)
		if err != nil {
			return nil, fmt.Errorf("failed to read table %s: %w", object.URL(), err)
		}
		var table model.Table
		if err := json.Unmarshal(data, &table); err != nil {
			return nil, fmt.Errorf("failed to unmarshal table %s: %w", object.URL(), err)
		}
		tables[strings.TrimSuffix(object.Name(), ".json")] = &table
	}
	return tables, nil
}
