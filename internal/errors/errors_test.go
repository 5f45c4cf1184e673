package errors

import (
	"fmt"
	"testing"
	"time"
)

func TestBuildDefaults(t *testing.T) {
	t.Parallel()

	ee := New(fmt.Errorf("test error")).Build()

	if ee.Error() != "test error" {
		t.Errorf("Expected error message 'test error', got '%s'", ee.Error())
	}
	if ee.Category != CategoryGeneric {
		t.Errorf("Expected category 'generic', got '%s'", ee.Category)
	}
	if ee.GetComponent() != ComponentUnknown {
		t.Errorf("Expected component 'unknown', got '%s'", ee.GetComponent())
	}
	if ee.Timestamp.IsZero() {
		t.Error("Expected timestamp to be set")
	}
}

func TestBuilderFields(t *testing.T) {
	t.Parallel()

	ee := Newf("open %s", "model.tflite").
		Component("detector").
		Category(CategoryModelLoad).
		Priority(PriorityHigh).
		ModelContext("/opt/models/model.tflite", 224).
		Timing("load", 1500*time.Millisecond).
		Build()

	if ee.GetComponent() != "detector" {
		t.Errorf("Expected component 'detector', got '%s'", ee.GetComponent())
	}
	if ee.Priority != PriorityHigh {
		t.Errorf("Expected priority high, got %s", ee.Priority)
	}

	ctx := ee.GetContext()
	if ctx["model_file"] != "model.tflite" {
		t.Errorf("Expected model_file context, got %v", ctx["model_file"])
	}
	if ctx["input_size"] != 224 {
		t.Errorf("Expected input_size 224, got %v", ctx["input_size"])
	}
	if ctx["duration_ms"] != int64(1500) {
		t.Errorf("Expected duration_ms 1500, got %v", ctx["duration_ms"])
	}

	// Returned context is a copy
	ctx["model_file"] = "changed"
	if ee.GetContext()["model_file"] != "model.tflite" {
		t.Error("GetContext should return a copy")
	}
}

func TestUnknownPriorityFallsBackToMedium(t *testing.T) {
	t.Parallel()

	ee := New(NewStd("x")).Priority("urgent").Build()
	if ee.Priority != PriorityMedium {
		t.Errorf("Expected priority medium, got %s", ee.Priority)
	}
}

func TestCategoryMatching(t *testing.T) {
	t.Parallel()

	sentinel := NewStd("record not found")
	ee := New(sentinel).Category(CategoryNotFound).Build()
	wrapped := fmt.Errorf("correct: %w", ee)

	if !Is(wrapped, sentinel) {
		t.Error("Expected wrapped error to match sentinel")
	}
	if !IsNotFound(wrapped) {
		t.Error("Expected IsNotFound to be true")
	}
	if IsCategory(wrapped, CategoryValidation) {
		t.Error("Expected validation category check to be false")
	}
	if !Is(wrapped, &EnhancedError{Category: CategoryNotFound}) {
		t.Error("Expected category based Is match")
	}
}

func TestCategoryInheritedFromWrappedError(t *testing.T) {
	t.Parallel()

	inner := New(NewStd("bad bbox")).Category(CategoryValidation).Build()
	outer := New(fmt.Errorf("upsert: %w", inner)).Build()

	if outer.Category != CategoryValidation {
		t.Errorf("Expected inherited validation category, got %s", outer.Category)
	}
}

func TestFileContext(t *testing.T) {
	t.Parallel()

	ee := New(NewStd("write failed")).
		FileContext("images/abc.JPG", 2*1024*1024).
		Build()

	ctx := ee.GetContext()
	if ctx["file_extension"] != "jpg" {
		t.Errorf("Expected jpg extension, got %v", ctx["file_extension"])
	}
	if ctx["file_size_category"] != "medium" {
		t.Errorf("Expected medium size category, got %v", ctx["file_size_category"])
	}
}

func TestJoin(t *testing.T) {
	t.Parallel()

	a := NewStd("a")
	b := NewStd("b")
	joined := Join(a, b)
	if !Is(joined, a) || !Is(joined, b) {
		t.Error("Expected joined error to match both inputs")
	}
}
