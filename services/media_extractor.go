package services

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
)

// MediaExtractor wraps the ffmpeg/ffprobe binaries. It is the only place in
// the codebase that shells out.
type MediaExtractor struct{}

func NewMediaExtractor() *MediaExtractor {
	return &MediaExtractor{}
}

// ProbeDuration returns the media duration in seconds via ffprobe.
func (m *MediaExtractor) ProbeDuration(ctx context.Context, inputPath string) (float64, error) {
	cmd := exec.CommandContext(ctx,
		"ffprobe",
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1",
		inputPath,
	)
	out, err := cmd.Output()
	if err != nil {
		return 0, fmt.Errorf("ffprobe error: %w", err)
	}
	val := strings.TrimSpace(string(out))
	if val == "" {
		return 0, errors.New("ffprobe returned empty duration")
	}
	dur, err := strconv.ParseFloat(val, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid duration from ffprobe: %w", err)
	}
	return dur, nil
}

// ExtractAudio strips the audio track from a video into an mp3 and reports
// progress as ffmpeg works through the file. Progress is parsed from the
// -progress machine-readable stream on stdout.
func (m *MediaExtractor) ExtractAudio(ctx context.Context, inputPath, outputPath string, report ProgressFunc) (float64, error) {
	duration, err := m.ProbeDuration(ctx, inputPath)
	if err != nil {
		log.Printf("MediaExtractor: could not probe duration of %s, progress will be coarse: %v", filepath.Base(inputPath), err)
	}

	args := []string{
		"-y", "-i", inputPath,
		"-vn",
		"-f", "mp3",
		"-codec:a", "libmp3lame",
		"-b:a", "192k",
		"-progress", "pipe:1",
		"-nostats",
		outputPath,
	}

	if err := m.runFFmpeg(ctx, args, duration, report); err != nil {
		return 0, err
	}
	return duration, nil
}

// ExtractFrames samples one frame every intervalSeconds into outputDir as
// numbered jpegs and returns the written paths in frame order.
func (m *MediaExtractor) ExtractFrames(ctx context.Context, inputPath, outputDir string, intervalSeconds int, report ProgressFunc) ([]string, error) {
	if intervalSeconds <= 0 {
		intervalSeconds = 30
	}

	duration, err := m.ProbeDuration(ctx, inputPath)
	if err != nil {
		log.Printf("MediaExtractor: could not probe duration of %s: %v", filepath.Base(inputPath), err)
	}

	pattern := filepath.Join(outputDir, "frame_%04d.jpg")
	args := []string{
		"-y", "-i", inputPath,
		"-vf", fmt.Sprintf("fps=1/%d", intervalSeconds),
		"-q:v", "4",
		"-progress", "pipe:1",
		"-nostats",
		pattern,
	}

	if err := m.runFFmpeg(ctx, args, duration, report); err != nil {
		return nil, err
	}

	matches, err := filepath.Glob(filepath.Join(outputDir, "frame_*.jpg"))
	if err != nil {
		return nil, fmt.Errorf("failed to list extracted frames: %w", err)
	}
	sort.Strings(matches)
	if len(matches) == 0 {
		return nil, errors.New("ffmpeg produced no frames")
	}
	return matches, nil
}

// runFFmpeg executes ffmpeg with the given args, translating out_time_ms
// lines into percent progress against the known duration.
func (m *MediaExtractor) runFFmpeg(ctx context.Context, args []string, duration float64, report ProgressFunc) error {
	cmd := exec.CommandContext(ctx, "ffmpeg", args...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("failed to create ffmpeg stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("failed to create ffmpeg stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to start ffmpeg: %w", err)
	}

	var lastErrLine string
	stderrDone := make(chan struct{})
	go func() {
		defer close(stderrDone)
		stderrScanner := bufio.NewScanner(stderr)
		for stderrScanner.Scan() {
			line := strings.TrimSpace(stderrScanner.Text())
			if line != "" {
				lastErrLine = line
			}
		}
	}()

	scanner := bufio.NewScanner(stdout)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, "out_time_ms=") && duration > 0 && report != nil {
			msStr := strings.TrimPrefix(line, "out_time_ms=")
			if outMs, convErr := strconv.ParseFloat(msStr, 64); convErr == nil {
				ratio := (outMs / 1_000_000.0) / duration
				if ratio < 0 {
					ratio = 0
				}
				if ratio > 1 {
					ratio = 1
				}
				report(int(ratio*100), "processing media")
			}
		}
		if strings.HasPrefix(line, "progress=end") && report != nil {
			report(100, "finalizing output")
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("failed while reading ffmpeg output: %w", err)
	}

	// The scanner goroutine must finish before Wait closes the pipe and
	// before lastErrLine is read.
	<-stderrDone

	if err := cmd.Wait(); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if lastErrLine != "" {
			return fmt.Errorf("ffmpeg failed: %s", lastErrLine)
		}
		return fmt.Errorf("ffmpeg failed: %w", err)
	}
	return nil
}

// TempWorkdir creates a scratch directory for one job's media files. The
// caller removes it when done.
func TempWorkdir(jobID uint) (string, error) {
	dir, err := os.MkdirTemp("", fmt.Sprintf("mediavault-job-%d-", jobID))
	if err != nil {
		return "", fmt.Errorf("failed to create scratch dir: %w", err)
	}
	return dir, nil
}
