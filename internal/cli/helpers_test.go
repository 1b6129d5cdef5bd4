package cli

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

const testCatalogCUE = `package catalog

genome: hg19: chromosomes: {chr1: 1000, chr2: 500}

column: {
	NAME: {kind: "simple", type: "string"}
	SCORE: {kind: "simple", type: "double"}
}

term: {
	epigenetic_mark: {H3K4me3: {}, H3K27ac: {}}
	biosource: {
		"K562": parents: ["blood"]
		blood: {}
	}
}
`

const testDatasetsCUE = `package catalog

dataset: peaks_a: {
	kind:            "experiment"
	genome:          "hg19"
	epigenetic_mark: "H3K4me3"
	biosource:       "K562"
	columns: ["NAME", "SCORE"]
	regions: """
		chr1 100 200 a1 5
		chr1 300 400 a2 7
		chr1 800 900 a3 2
		chr2 10 50 a4 9
		"""
}

dataset: peaks_b: {
	kind:            "experiment"
	genome:          "hg19"
	epigenetic_mark: "H3K27ac"
	biosource:       "blood"
	columns: ["NAME", "SCORE"]
	regions: """
		chr1 150 250 b1 1
		chr1 850 950 b2 4
		"""
}
`

const testScenarioYAML = `name: count_peaks
catalog: ../catalog
steps:
  - build: select
    as: a
    args: { datasets: [peaks_a] }
  - submit: count_regions
    query: a
    expect: { count: 4 }
`

// writeTestCatalog writes the two-dataset catalog under dir/catalog and
// returns its path.
func writeTestCatalog(t *testing.T, dir string) string {
	t.Helper()
	catalogDir := filepath.Join(dir, "catalog")
	require.NoError(t, os.MkdirAll(catalogDir, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(catalogDir, "catalog.cue"), []byte(testCatalogCUE), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(catalogDir, "datasets.cue"), []byte(testDatasetsCUE), 0644))
	return catalogDir
}

// writeTestScenarios writes the catalog and a scenarios directory holding
// count_peaks.yaml, and returns the scenarios directory.
func writeTestScenarios(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	writeTestCatalog(t, dir)
	scenariosDir := filepath.Join(dir, "scenarios")
	require.NoError(t, os.MkdirAll(scenariosDir, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(scenariosDir, "count_peaks.yaml"), []byte(testScenarioYAML), 0644))
	return scenariosDir
}

// execute runs the root command with args and returns its standard output.
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCommand()
	out := &bytes.Buffer{}
	cmd.SetOut(out)
	cmd.SetErr(io.Discard)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}
