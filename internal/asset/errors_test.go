package asset

import (
	"errors"
	"fmt"
	"testing"

	"github.com/socialcdn/image-pipeline/pkg/schema"
)

func TestRetryable(t *testing.T) {
	upstream := &UpstreamError{URL: "http://img/a.jpg", StatusCode: 404}
	if Retryable(upstream) {
		t.Error("upstream rejection must not be retried")
	}
	if Retryable(fmt.Errorf("fetch: %w", upstream)) {
		t.Error("wrapped upstream rejection must not be retried")
	}

	if !Retryable(&TransientError{Op: "fetch", Err: errors.New("connection reset")}) {
		t.Error("transient failure should be retried")
	}
	if !Retryable(&StorageError{Key: "a/b/c.jpg", Err: errors.New("timeout")}) {
		t.Error("storage failure should be retried")
	}
}

func TestClassify(t *testing.T) {
	if got := Classify(nil); got != "" {
		t.Errorf("Classify(nil) = %q", got)
	}
	if got := Classify(&UpstreamError{Reason: "not an image"}); got != schema.FailureTypePermanent {
		t.Errorf("upstream classified as %q", got)
	}
	if got := Classify(&TransientError{Op: "fetch", Err: errors.New("timeout")}); got != schema.FailureTypeRetryable {
		t.Errorf("transient classified as %q", got)
	}
}
