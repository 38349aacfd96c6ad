package browser

import (
	"os"
	"testing"
)

func TestMain(m *testing.M) {
	code := m.Run()
	engineMu.Lock()
	if sharedEngine != nil {
		_ = sharedEngine.Close()
	}
	engineMu.Unlock()
	os.Exit(code)
}
