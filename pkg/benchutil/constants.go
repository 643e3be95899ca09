package benchutil

// Shared constants for benchmarks across packages.

// BenchmarkSeed is the default seed for reproducible benchmark data generation.
const BenchmarkSeed = 42

// BenchmarkSizes are row counts per file for quick runs.
var BenchmarkSizes = []int{1000, 10000, 100000}

// ScalingSizes are larger row counts, used with AADHAAR_LONG_BENCH=1.
var ScalingSizes = []int{250000, 1000000}

// BenchmarkBatchSizes are flush thresholds compared by the ingest benchmarks.
var BenchmarkBatchSizes = []int{100, 1000, 5000}
