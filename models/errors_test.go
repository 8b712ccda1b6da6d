package models

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
)

func TestStatusCodeByKind(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"missing input", NewMissingInput("no image"), http.StatusBadRequest},
		{"decode failure", NewDecodeFailure("bad bytes", errors.New("eof")), http.StatusBadRequest},
		{"inference failure", NewInferenceFailure("run failed", errors.New("ort")), http.StatusInternalServerError},
		{"wrapped", fmt.Errorf("predict: %w", NewMissingInput("no image")), http.StatusBadRequest},
		{"unclassified", errors.New("boom"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		if got := StatusCode(tt.err); got != tt.want {
			t.Errorf("%s: StatusCode() = %d, want %d", tt.name, got, tt.want)
		}
	}
}

func TestProcessingErrorMessage(t *testing.T) {
	cause := errors.New("illegal base64 data at input byte 4")
	err := NewDecodeFailure("Failed to process image data", cause)

	if err.Error() != "Failed to process image data: illegal base64 data at input byte 4" {
		t.Fatalf("unexpected message: %q", err.Error())
	}
	if !errors.Is(err, cause) {
		t.Fatal("expected cause to be reachable through Unwrap")
	}
	if KindOf(err) != KindDecodeFailure {
		t.Fatalf("expected decode failure, got %s", KindOf(err))
	}

	if msg := NewMissingInput("No image_data field in JSON").Error(); msg != "No image_data field in JSON" {
		t.Fatalf("unexpected message without cause: %q", msg)
	}
}
