package harness

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"

	"github.com/panjf2000/ants/v2"
)

// Outcome is the result of running one scenario file.
type Outcome struct {
	Path     string
	Scenario *Scenario
	Result   *Result

	// Err is set when the file could not be loaded or run.
	Err error
}

// FindScenarioFiles returns the YAML files under dir, sorted. A non-empty
// filter is matched against each file's base name without extension.
func FindScenarioFiles(dir, filter string) ([]string, error) {
	var files []string

	err := filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}

		ext := filepath.Ext(path)
		if ext != ".yaml" && ext != ".yml" {
			return nil
		}

		if filter != "" {
			name := strings.TrimSuffix(filepath.Base(path), ext)
			matched, err := filepath.Match(filter, name)
			if err != nil {
				return fmt.Errorf("invalid filter pattern: %w", err)
			}
			if !matched {
				return nil
			}
		}

		files = append(files, path)
		return nil
	})
	if err != nil {
		return nil, err
	}
	slices.Sort(files)
	return files, nil
}

// RunFiles loads and runs scenario files on a pool of workers. Each
// scenario gets its own store, so they run independently. Outcomes are
// returned in the order of paths.
func RunFiles(ctx context.Context, paths []string, workers int, opts ...Option) ([]Outcome, error) {
	if workers <= 0 {
		workers = 1
	}
	outcomes := make([]Outcome, len(paths))

	var wg sync.WaitGroup
	pool, err := ants.NewPoolWithFunc(workers, func(arg any) {
		defer wg.Done()
		i := arg.(int)
		outcomes[i] = runFile(ctx, paths[i], opts...)
	})
	if err != nil {
		return nil, fmt.Errorf("create worker pool: %w", err)
	}
	defer pool.Release()

	for i := range paths {
		wg.Add(1)
		if err := pool.Invoke(i); err != nil {
			wg.Done()
			outcomes[i] = Outcome{Path: paths[i], Err: fmt.Errorf("schedule: %w", err)}
		}
	}
	wg.Wait()
	return outcomes, nil
}

func runFile(ctx context.Context, path string, opts ...Option) (out Outcome) {
	out.Path = path
	defer func() {
		if r := recover(); r != nil {
			out.Err = fmt.Errorf("scenario panicked: %v", r)
		}
	}()

	scenario, err := LoadScenario(path)
	if err != nil {
		out.Err = err
		return out
	}
	out.Scenario = scenario

	result, err := Run(ctx, scenario, opts...)
	if err != nil {
		out.Err = fmt.Errorf("execution failed: %v", err)
		return out
	}
	out.Result = result
	return out
}
