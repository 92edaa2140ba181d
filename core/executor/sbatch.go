package executor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"path/filepath"
	"strings"
	"unicode/utf8"
)

// ErrSubmitFailed is returned when the scheduler CLI rejects a job
var ErrSubmitFailed = errors.New("job submission failed")

// Submitter hands a rendered job script to the batch scheduler
type Submitter interface {
	// Submit submits scriptPath and returns the scheduler job id. Scheduler output for the
	// job is written into outputDir.
	Submit(ctx context.Context, scriptPath, outputDir string) (string, error)
}

// Sbatch submits jobs with the SLURM sbatch command
type Sbatch struct {
	path string
}

// NewSbatch creates a submitter that runs the sbatch binary at path (looked up in PATH if bare)
func NewSbatch(path string) *Sbatch {
	return &Sbatch{path: path}
}

// Args returns the sbatch command line arguments for a job
func (s *Sbatch) Args(scriptPath, outputDir string) []string {
	return []string{
		"--parsable",
		"--output", filepath.Join(outputDir, "%j.out"),
		scriptPath,
	}
}

// Submit runs sbatch and returns the trimmed stdout as the job id
func (s *Sbatch) Submit(ctx context.Context, scriptPath, outputDir string) (string, error) {
	cmd := exec.CommandContext(ctx, s.path, s.Args(scriptPath, outputDir)...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("%w: %s %s: %v: %s",
			ErrSubmitFailed, s.path, scriptPath, err, strings.TrimSpace(stderr.String()))
	}

	if !utf8.Valid(stdout.Bytes()) {
		return "", fmt.Errorf("%w: sbatch output is not valid UTF-8", ErrSubmitFailed)
	}

	jobID := strings.TrimSpace(stdout.String())
	if jobID == "" {
		return "", fmt.Errorf("%w: sbatch printed no job id", ErrSubmitFailed)
	}
	return jobID, nil
}
