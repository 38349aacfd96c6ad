package artifacts

import (
	"context"
	"testing"
)

// TestClient returns a client backed by an in-memory gofakes3 server that
// is shut down when the test completes.
func TestClient(t testing.TB, bucket string) *Client {
	t.Helper()
	local, err := NewLocal(context.Background(), bucket)
	if err != nil {
		t.Fatalf("failed to start local S3: %v", err)
	}
	t.Cleanup(func() { local.Close() })
	return local.Client
}
