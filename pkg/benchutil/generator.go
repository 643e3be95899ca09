// Package benchutil generates synthetic enrollment files for benchmarks and tests.
package benchutil

import (
	"encoding/csv"
	"fmt"
	"io"
	"math/rand"
	"os"
	"path/filepath"

	"github.com/eunmann/aadhaar-index/pkg/enroll"
	"github.com/klauspost/compress/gzip"
)

// Header is the first line of every published enrollment file. Its text is
// never read; the columns are bound by position.
var Header = []string{
	"Registrar", "Enrolment Agency", "State", "District", "Sub District",
	"Pin Code", "Gender", "Age", "Aadhaar generated", "Enrolment Rejected",
	"Residents providing email", "Residents providing mobile number",
}

var (
	registrars = []string{"Bank Of India", "Govt of Andhra Pradesh", "NSDL e-Governance", "Civil Supplies - A&N Islands"}
	agencies   = []string{"Wipro Ltd", "Tera Software Ltd", "Vakrangee Softwares Limited", "SREI INFRASTRUCTURE FINANCE LTD, MUMBAI"}
	states     = []string{"Andhra Pradesh", "Delhi", "Karnataka", "Tamil Nadu", "Uttar Pradesh"}
	districts  = []string{"Hyderabad", "New Delhi", "Bangalore", "Chennai", "Lucknow"}
	genders    = []string{"M", "F", "T"}
)

// GeneratorConfig configures synthetic row generation.
type GeneratorConfig struct {
	// NumRows is the number of data rows, excluding the header.
	NumRows int
	// MalformedRate is the share of rows given a non-numeric count field.
	MalformedRate float64
	// Seed for reproducible generation. 0 = use BenchmarkSeed.
	Seed int64
}

// DefaultConfig returns a config of clean rows.
func DefaultConfig(numRows int) GeneratorConfig {
	return GeneratorConfig{NumRows: numRows, Seed: BenchmarkSeed}
}

// Generator produces enrollment rows.
type Generator struct {
	cfg GeneratorConfig
	rng *rand.Rand
}

// NewGenerator creates a generator.
func NewGenerator(cfg GeneratorConfig) *Generator {
	seed := cfg.Seed
	if seed == 0 {
		seed = BenchmarkSeed
	}
	return &Generator{cfg: cfg, rng: rand.New(rand.NewSource(seed))}
}

// Rows returns NumRows synthetic rows. Each row is distinct so identifiers
// never collide within a file.
func (g *Generator) Rows() []enroll.Row {
	rows := make([]enroll.Row, g.cfg.NumRows)
	for i := range rows {
		rows[i] = g.row(i)
	}
	return rows
}

func (g *Generator) row(i int) enroll.Row {
	pick := func(vals []string) string { return vals[g.rng.Intn(len(vals))] }

	generated := fmt.Sprint(g.rng.Intn(50))
	if g.cfg.MalformedRate > 0 && g.rng.Float64() < g.cfg.MalformedRate {
		generated = "n/a"
	}

	return enroll.Row{
		pick(registrars),
		pick(agencies),
		pick(states),
		pick(districts),
		fmt.Sprintf("Block %d", i%97),
		fmt.Sprintf("%06d", 110000+i),
		pick(genders),
		fmt.Sprint(g.rng.Intn(100)),
		generated,
		fmt.Sprint(g.rng.Intn(5)),
		fmt.Sprint(g.rng.Intn(20)),
		fmt.Sprint(g.rng.Intn(40)),
	}
}

// WriteCSV writes the header followed by the generated rows.
func (g *Generator) WriteCSV(w io.Writer) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(Header); err != nil {
		return err
	}
	for i := 0; i < g.cfg.NumRows; i++ {
		if err := cw.Write(g.row(i)); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteFile writes a generated file named name into dir and returns its path.
// Names ending in .gz are gzip-compressed.
func WriteFile(dir, name string, cfg GeneratorConfig) (string, error) {
	path := filepath.Join(dir, name)
	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("create %s: %w", path, err)
	}
	defer f.Close()

	var w io.Writer = f
	var gzw *gzip.Writer
	if filepath.Ext(name) == ".gz" {
		gzw = gzip.NewWriter(f)
		w = gzw
	}

	if err := NewGenerator(cfg).WriteCSV(w); err != nil {
		return "", fmt.Errorf("write %s: %w", path, err)
	}
	if gzw != nil {
		if err := gzw.Close(); err != nil {
			return "", fmt.Errorf("close gzip %s: %w", path, err)
		}
	}
	return path, f.Close()
}
