package retrain

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/smallnest/ringbuffer"

	"github.com/tphakala/foodnet-go/internal/conf"
	"github.com/tphakala/foodnet-go/internal/errors"
	"github.com/tphakala/foodnet-go/internal/logger"
)

// maxOutputTail is how much command output is kept for error reports.
const maxOutputTail = 4096

// DatasetExporter writes the labeled dataset as CSV.
type DatasetExporter interface {
	ExportCSVFile(ctx context.Context, path string) error
}

// CommandAction exports the dataset and then runs the configured training
// command. The command sees FOODNET_DATASET and FOODNET_RETRAIN_JOB in its
// environment.
type CommandAction struct {
	exporter DatasetExporter
	command  []string
	workDir  string
	csvPath  string
}

// NewCommandAction builds the default retrain action from settings.
func NewCommandAction(exporter DatasetExporter, settings *conf.RetrainSettings) *CommandAction {
	return &CommandAction{
		exporter: exporter,
		command:  settings.Command,
		workDir:  settings.WorkDir,
		csvPath:  settings.CSVPath,
	}
}

// Run implements Action.
func (a *CommandAction) Run(ctx context.Context, job Job) error {
	log := GetLogger().With(logger.String("job_id", job.ID))

	if a.csvPath != "" && a.exporter != nil {
		start := time.Now()
		if err := a.exporter.ExportCSVFile(ctx, a.csvPath); err != nil {
			return errors.New(fmt.Errorf("retrain: export dataset: %w", err)).
				Category(errors.CategoryFileIO).
				Context("csv_path", a.csvPath).
				Build()
		}
		log.Info("dataset exported for retraining",
			logger.String("csv_path", a.csvPath),
			logger.Duration("elapsed", time.Since(start)))
	}

	if len(a.command) == 0 {
		log.Info("no retrain command configured, dataset export only")
		return nil
	}

	cmd := exec.CommandContext(ctx, a.command[0], a.command[1:]...) //nolint:gosec // G204: command comes from operator configuration
	cmd.Dir = a.workDir
	cmd.Env = append(os.Environ(),
		"FOODNET_DATASET="+a.csvPath,
		"FOODNET_RETRAIN_JOB="+job.ID,
	)
	cmd.WaitDelay = 5 * time.Second

	output := newTailBuffer(maxOutputTail)
	cmd.Stdout = output
	cmd.Stderr = output

	start := time.Now()
	err := cmd.Run()
	elapsed := time.Since(start)

	if err != nil {
		category := errors.CategoryCommandExecution
		switch {
		case errors.Is(ctx.Err(), context.DeadlineExceeded):
			category = errors.CategoryTimeout
		case errors.Is(ctx.Err(), context.Canceled):
			err = fmt.Errorf("%w: %w", context.Canceled, err)
			category = errors.CategoryCancellation
		}
		return errors.New(fmt.Errorf("retrain: command %q: %w", a.command[0], err)).
			Category(category).
			Context("output", output.String()).
			Timing("retrain-command", elapsed).
			Build()
	}

	log.Info("retrain command finished",
		logger.String("command", a.command[0]),
		logger.Duration("elapsed", elapsed),
		logger.String("output_tail", lastLine(output.String())))
	return nil
}

// tailBuffer keeps the last bytes written to it in a fixed ring.
type tailBuffer struct {
	rb *ringbuffer.RingBuffer
}

func newTailBuffer(size int) *tailBuffer {
	return &tailBuffer{rb: ringbuffer.New(size)}
}

func (b *tailBuffer) Write(p []byte) (int, error) {
	n := len(p)
	if c := b.rb.Capacity(); len(p) > c {
		p = p[len(p)-c:]
	}
	if over := len(p) - b.rb.Free(); over > 0 {
		_, _ = b.rb.Read(make([]byte, over))
	}
	_, _ = b.rb.Write(p)
	return n, nil
}

// String returns the buffered bytes without consuming them.
func (b *tailBuffer) String() string {
	n := b.rb.Length()
	if n == 0 {
		return ""
	}
	buf := make([]byte, n)
	n, _ = b.rb.Read(buf)
	_, _ = b.rb.Write(buf[:n])
	return string(buf[:n])
}

func lastLine(s string) string {
	s = strings.TrimRight(s, "\r\n")
	if i := strings.LastIndexByte(s, '\n'); i >= 0 {
		return s[i+1:]
	}
	return s
}
