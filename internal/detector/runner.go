package detector

import (
	"fmt"
	"os"
	"time"

	"github.com/tphakala/go-tflite"
	"github.com/tphakala/go-tflite/delegates/xnnpack"

	"github.com/tphakala/foodnet-go/internal/conf"
	"github.com/tphakala/foodnet-go/internal/cpuspec"
	"github.com/tphakala/foodnet-go/internal/errors"
	"github.com/tphakala/foodnet-go/internal/logger"
)

// Runner executes the detection model on a preprocessed NHWC tensor. It is
// not required to be safe for concurrent use.
type Runner interface {
	Run(input []float32) (scores []float32, boxes []Box, err error)
	Close() error
}

// TFLiteRunner runs a TensorFlow Lite detection model with two outputs:
// scores [1, C] and boxes [1, N, 4].
type TFLiteRunner struct {
	model       *tflite.Model
	options     *tflite.InterpreterOptions
	interpreter *tflite.Interpreter
	inputLen    int
}

// NewTFLiteRunner loads the model at settings.Path and allocates its tensors.
func NewTFLiteRunner(settings *conf.ModelSettings) (*TFLiteRunner, error) {
	start := time.Now()
	log := GetLogger()

	modelData, err := os.ReadFile(settings.Path)
	if err != nil {
		return nil, errors.New(fmt.Errorf("detector: read model: %w", err)).
			Category(errors.CategoryModelLoad).
			ModelContext(settings.Path, settings.InputSize).
			Build()
	}

	model := tflite.NewModel(modelData)
	if model == nil {
		return nil, errors.New(fmt.Errorf("cannot load TensorFlow Lite model")).
			Category(errors.CategoryModelInit).
			ModelContext(settings.Path, settings.InputSize).
			Context("model_size_kb", len(modelData)/1024).
			Timing("model-init", time.Since(start)).
			Build()
	}

	threads := cpuspec.GetCPUSpec().InferenceThreads(settings.Threads)

	options := tflite.NewInterpreterOptions()
	if settings.UseXNNPACK {
		delegate := xnnpack.New(xnnpack.DelegateOptions{NumThreads: int32(max(1, threads-1))}) //nolint:gosec // G115: thread count bounded by CPU count
		if delegate == nil {
			log.Warn("failed to create XNNPACK delegate, falling back to default CPU")
			options.SetNumThread(threads)
		} else {
			options.AddDelegate(delegate)
			options.SetNumThread(1)
		}
	} else {
		options.SetNumThread(threads)
	}
	options.SetErrorReporter(func(msg string, _ any) {
		GetLogger().Error("TFLite error", logger.String("message", msg))
	}, nil)

	r := &TFLiteRunner{model: model, options: options}

	r.interpreter = tflite.NewInterpreter(model, options)
	if r.interpreter == nil {
		_ = r.Close()
		return nil, errors.Newf("cannot create interpreter").
			Category(errors.CategoryModelInit).
			ModelContext(settings.Path, settings.InputSize).
			Build()
	}
	if status := r.interpreter.AllocateTensors(); status != tflite.OK {
		_ = r.Close()
		return nil, errors.Newf("tensor allocation failed: %v", status).
			Category(errors.CategoryModelInit).
			ModelContext(settings.Path, settings.InputSize).
			Build()
	}

	if err := r.validate(settings.InputSize); err != nil {
		_ = r.Close()
		return nil, errors.New(err).
			Category(errors.CategoryModelInit).
			ModelContext(settings.Path, settings.InputSize).
			Build()
	}

	log.Info("detection model initialized",
		logger.String("model", settings.Path),
		logger.Int("threads", threads),
		logger.Bool("xnnpack", settings.UseXNNPACK),
		logger.Duration("elapsed", time.Since(start)))

	return r, nil
}

// validate checks the tensor shapes against the configured input size.
func (r *TFLiteRunner) validate(inputSize int) error {
	input := r.interpreter.GetInputTensor(0)
	if input == nil {
		return fmt.Errorf("cannot get input tensor")
	}
	r.inputLen = len(input.Float32s())
	if want := inputSize * inputSize * 3; r.inputLen != want {
		return fmt.Errorf("input tensor holds %d values, expected %d for %dx%d RGB", r.inputLen, want, inputSize, inputSize)
	}

	if n := r.interpreter.GetOutputTensorCount(); n < 2 {
		return fmt.Errorf("model has %d outputs, expected scores and boxes", n)
	}
	boxes := r.interpreter.GetOutputTensor(1)
	if boxes == nil || boxes.Dim(boxes.NumDims()-1) != 4 {
		return fmt.Errorf("second output is not a [1, N, 4] box tensor")
	}
	return nil
}

// Run implements Runner.
func (r *TFLiteRunner) Run(input []float32) ([]float32, []Box, error) {
	if len(input) != r.inputLen {
		return nil, nil, fmt.Errorf("input has %d values, model expects %d", len(input), r.inputLen)
	}

	inputTensor := r.interpreter.GetInputTensor(0)
	if inputTensor == nil {
		return nil, nil, fmt.Errorf("cannot get input tensor")
	}
	copy(inputTensor.Float32s(), input)

	if status := r.interpreter.Invoke(); status != tflite.OK {
		return nil, nil, fmt.Errorf("tensor invoke failed: %v", status)
	}

	scoresTensor := r.interpreter.GetOutputTensor(0)
	scores := make([]float32, len(scoresTensor.Float32s()))
	copy(scores, scoresTensor.Float32s())

	raw := r.interpreter.GetOutputTensor(1).Float32s()
	boxes := make([]Box, len(raw)/4)
	for i := range boxes {
		for j := range 4 {
			boxes[i][j] = float64(raw[i*4+j])
		}
	}

	return scores, boxes, nil
}

// Close releases the interpreter and model.
func (r *TFLiteRunner) Close() error {
	if r.interpreter != nil {
		r.interpreter.Delete()
		r.interpreter = nil
	}
	if r.options != nil {
		r.options.Delete()
		r.options = nil
	}
	if r.model != nil {
		r.model.Delete()
		r.model = nil
	}
	return nil
}
