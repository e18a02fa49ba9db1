package testing

import (
	"os"
	"sync"
	stdtesting "testing"
)

var once sync.Once

// ensureTestMode marks binaries as under test and supplies the settings
// LoadConfig requires.
func ensureTestMode() {
	once.Do(func() {
		_ = os.Setenv("AMATS_TEST_MODE", "1")
		if os.Getenv("SESSION_SECRET") == "" {
			_ = os.Setenv("SESSION_SECRET", "test-secret")
		}
		if os.Getenv("SCAN_PRIVILEGED") == "" {
			_ = os.Setenv("SCAN_PRIVILEGED", "false")
		}
	})
}

func init() {
	ensureTestMode()
}

func TestMain(m *stdtesting.M) {
	ensureTestMode()
	os.Exit(m.Run())
}
