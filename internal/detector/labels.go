package detector

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/tphakala/foodnet-go/internal/errors"
)

// LabelSource supplies model labels, index i naming score i.
type LabelSource interface {
	Labels(ctx context.Context) ([]string, error)
}

// StaticLabels is a fixed label list.
type StaticLabels []string

// Labels implements LabelSource.
func (s StaticLabels) Labels(context.Context) ([]string, error) {
	return s, nil
}

// LoadLabels reads one label per line. Blank lines are skipped.
func LoadLabels(path string) (StaticLabels, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.New(fmt.Errorf("detector: open labels: %w", err)).
			Category(errors.CategoryLabelLoad).
			FileContext(path, 0).
			Build()
	}
	defer func() { _ = f.Close() }()

	var labels StaticLabels
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(strings.TrimPrefix(scanner.Text(), "\ufeff"))
		if line == "" {
			continue
		}
		labels = append(labels, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.New(fmt.Errorf("detector: read labels: %w", err)).
			Category(errors.CategoryLabelLoad).
			FileContext(path, 0).
			Build()
	}
	if len(labels) == 0 {
		return nil, errors.Newf("detector: labels file %s is empty", path).
			Category(errors.CategoryLabelLoad).
			Build()
	}

	return labels, nil
}
