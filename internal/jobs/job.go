// Package jobs turns a dataset into upload jobs and queues the ones the
// renter does not already know about.
package jobs

import (
	"errors"
	"fmt"
	"path"
	"path/filepath"
	"strings"
)

// MaxDatasetCopies bounds how many times a dataset may be replicated. The copy
// index is rendered with eight digits in the Sia path.
const MaxDatasetCopies = 10000

// ErrInvalidCopyCount is returned when the copy count is outside 1..MaxDatasetCopies.
var ErrInvalidCopyCount = errors.New("invalid dataset copy count")

// Job is one file to upload. LocalPath and SiaPath identify it; FailureCount
// is the only field that changes after creation.
type Job struct {
	LocalPath    string
	SiaPath      string
	FailureCount int
}

// New returns a job with no failures recorded.
func New(localPath, siaPath string) *Job {
	return &Job{LocalPath: localPath, SiaPath: siaPath}
}

func (j *Job) IncrementFailureCount() {
	j.FailureCount++
}

func (j *Job) String() string {
	return fmt.Sprintf("Job(%s -> %s)", j.LocalPath, j.SiaPath)
}

// FromDataset maps each local path under rootDir to a job. With copies > 1
// every file appears once per copy and the copy index is added to the Sia
// path ahead of the extension, e.g. foo/b-00000002.txt.
func FromDataset(rootDir string, localPaths []string, copies int) ([]*Job, error) {
	if copies < 1 || copies > MaxDatasetCopies {
		return nil, fmt.Errorf("%w: %d (must be 1-%d)", ErrInvalidCopyCount, copies, MaxDatasetCopies)
	}

	siaPaths := make([]string, len(localPaths))
	for i, p := range localPaths {
		sp, err := siaPathFor(p, rootDir)
		if err != nil {
			return nil, err
		}
		siaPaths[i] = sp
	}

	out := make([]*Job, 0, len(localPaths)*copies)
	if copies == 1 {
		for i, p := range localPaths {
			out = append(out, New(p, siaPaths[i]))
		}
		return out, nil
	}
	for c := 0; c < copies; c++ {
		for i, p := range localPaths {
			out = append(out, New(p, withCopySuffix(siaPaths[i], c)))
		}
	}
	return out, nil
}

func siaPathFor(localPath, rootDir string) (string, error) {
	rel, err := filepath.Rel(rootDir, localPath)
	if err != nil {
		return "", fmt.Errorf("relative path of %s: %w", localPath, err)
	}
	if rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%s is not inside dataset root %s", localPath, rootDir)
	}
	return toSlash(rel, filepath.Separator), nil
}

// toSlash rewrites sep-separated paths with forward slashes so the same
// dataset gets the same Sia paths on every host.
func toSlash(p string, sep rune) string {
	if sep == '/' {
		return p
	}
	return strings.ReplaceAll(p, string(sep), "/")
}

func withCopySuffix(siaPath string, index int) string {
	ext := path.Ext(siaPath)
	base := strings.TrimSuffix(siaPath, ext)
	return fmt.Sprintf("%s-%08d%s", base, index, ext)
}
