package benchutil

import (
	"os"
	"testing"
)

// SkipIfNoLongBench skips the benchmark if AADHAAR_LONG_BENCH is not set.
func SkipIfNoLongBench(b *testing.B) {
	if os.Getenv("AADHAAR_LONG_BENCH") == "" {
		b.Skip("set AADHAAR_LONG_BENCH=1 to run scaling benchmark")
	}
}
