package datasets

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/gomlx/gomlx/pkg/core/tensors/numpy"
	"github.com/janpfeifer/must"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/yuchanpei/gcnn/pkg/graphdata"
)

func writeFiles(t *testing.T, dir string, files map[string]string) {
	require.NoError(t, os.MkdirAll(dir, 0o755))
	for name, contents := range files {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(contents), 0o644))
	}
}

// writeTinyTU writes a TU dataset with 2 graphs: a 3-node path and a 2-node edge.
func writeTinyTU(t *testing.T, dir string) {
	writeFiles(t, dir, map[string]string{
		"TINY_A.txt":               "2, 3\n1, 2\n2, 1\n3, 2\n5, 4\n4, 5\n",
		"TINY_graph_indicator.txt": "1\n1\n1\n2\n2\n",
		"TINY_graph_labels.txt":    "1\n-1\n",
		"TINY_node_labels.txt":     "0\n1\n0\n2\n2\n",
		"TINY_edge_labels.txt":     "7\n1\n2\n8\n5\n6\n",
		"TINY_node_attributes.txt": "0.5, 1\n1.5, 2\n2.5, 3\n3.5, 4\n4.5, 5\n",
	})
}

func TestTUDataset(t *testing.T) {
	dir := t.TempDir()
	writeTinyTU(t, dir)
	list := must.M1((&TUDataset{Name: "TINY"}).Materialize(dir))
	require.Equal(t, 2, list.Len())

	first, second := list.At(0), list.At(1)
	fmt.Printf("\tTINY[0]: %v\n", first.Get(graphdata.EdgeIndices))
	// Sorted by target, then source.
	assert.Equal(t, [][]int32{{0, 1}, {1, 0}, {1, 2}, {2, 1}}, first.Get(graphdata.EdgeIndices).Value())
	assert.Equal(t, []int32{1, 2, 7, 8}, first.Get("edge_labels").Value())
	assert.Equal(t, [][]int32{{0, 1}, {1, 0}}, second.Get(graphdata.EdgeIndices).Value())
	assert.Equal(t, []int32{6, 5}, second.Get("edge_labels").Value())

	assert.Equal(t, []int32{1}, first.Get("graph_labels").Value())
	assert.Equal(t, []int32{-1}, second.Get("graph_labels").Value())
	assert.Equal(t, []int32{0, 1, 0}, first.Get("node_labels").Value())
	assert.Equal(t, [][]float32{{3.5, 4}, {4.5, 5}}, second.Get("node_attributes").Value())
	assert.Equal(t, 3, first.NumNodes())
	assert.Equal(t, 2, second.NumEdges())
	require.NoError(t, first.Validate())
	require.NoError(t, second.Validate())

	// Edge across graphs.
	writeFiles(t, dir, map[string]string{"TINY_A.txt": "1, 4\n"})
	_, err := (&TUDataset{Name: "TINY"}).Materialize(dir)
	require.ErrorContains(t, err, "invalid edge")

	_, err = (&TUDataset{Name: "MISSING"}).Materialize(dir)
	require.Error(t, err)
}

// countingMaterializer counts the calls to Materialize.
type countingMaterializer struct {
	Materializer
	calls int
}

func (m *countingMaterializer) Materialize(dir string) (*graphdata.List, error) {
	m.calls++
	return m.Materializer.Materialize(dir)
}

func TestDatasetLoad(t *testing.T) {
	dataDir := t.TempDir()
	rawDir := filepath.Join(dataDir, "raw")
	writeTinyTU(t, rawDir)
	materializer := &countingMaterializer{Materializer: &TUDataset{Name: "TINY"}}
	ds := New("TINY", LocalDir(rawDir), materializer, Config{DataDir: dataDir})

	list := must.M1(ds.Load(context.Background()))
	require.Equal(t, 2, list.Len())
	require.Equal(t, 1, materializer.calls)
	require.FileExists(t, ds.CachePath())

	// Second load comes from the cache, even without the raw files.
	require.NoError(t, os.RemoveAll(rawDir))
	cached := must.M1(ds.Load(context.Background()))
	require.Equal(t, 1, materializer.calls)
	require.Equal(t, list.Len(), cached.Len())
	for ii := range list.Len() {
		assert.Equal(t, list.At(ii).Names(), cached.At(ii).Names())
		for _, name := range list.At(ii).Names() {
			assert.True(t, list.At(ii).Get(name).Equal(cached.At(ii).Get(name)), "record #%d, %q", ii, name)
		}
	}

	// Reload requires the raw files again.
	ds.Config.Reload = true
	_, err := ds.Load(context.Background())
	require.ErrorContains(t, err, "doesn't exist")

	require.NoError(t, ds.Clean())
	require.NoFileExists(t, ds.CachePath())
	require.NoError(t, ds.Clean())

	_, err = New("TINY", LocalDir(rawDir), materializer, Config{}).Load(context.Background())
	require.Error(t, err)
}

func TestURLSource(t *testing.T) {
	contents := "1\n2\n"
	var requests int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests++
		if r.URL.Path != "/file.txt" {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write([]byte(contents))
	}))
	defer server.Close()
	hash := sha256.Sum256([]byte(contents))
	checksum := hex.EncodeToString(hash[:])

	dataDir := t.TempDir()
	source := &URLSource{URL: server.URL + "/file.txt", FileName: "file.txt", SHA256: strings.ToUpper(checksum)}
	dir := must.M1(source.Locate(context.Background(), dataDir))
	require.Equal(t, dataDir, dir)
	require.Equal(t, contents, string(must.M1(os.ReadFile(filepath.Join(dataDir, "file.txt")))))
	require.Equal(t, 1, requests)

	// Already downloaded.
	must.M1(source.Locate(context.Background(), dataDir))
	require.Equal(t, 1, requests)

	// Bad checksum removes the file.
	bad := &URLSource{URL: server.URL + "/file.txt", FileName: "bad.txt", SHA256: "00"}
	_, err := bad.Locate(context.Background(), dataDir)
	require.ErrorContains(t, err, "sha256")
	require.NoFileExists(t, filepath.Join(dataDir, "bad.txt"))

	missing := &URLSource{URL: server.URL + "/missing.txt", FileName: "missing.txt"}
	_, err = missing.Locate(context.Background(), dataDir)
	require.ErrorContains(t, err, "404")

	// Directory never created.
	noDir := &URLSource{URL: server.URL + "/file.txt", FileName: "file.txt", Directory: "extracted"}
	_, err = noDir.Locate(context.Background(), dataDir)
	require.ErrorContains(t, err, "didn't get")
}

func TestMD17(t *testing.T) {
	dir := t.TempDir()
	const numFrames, numAtoms = 4, 3
	coordinates := make([]float64, numFrames*numAtoms*3)
	forces := make([]float64, numFrames*numAtoms*3)
	for ii := range coordinates {
		coordinates[ii] = float64(ii)
		forces[ii] = -float64(ii)
	}
	require.NoError(t, numpy.ToNpzFile(map[string]*tensors.Tensor{
		"R": tensors.FromFlatDataAndDimensions(coordinates, numFrames, numAtoms, 3),
		"F": tensors.FromFlatDataAndDimensions(forces, numFrames, numAtoms, 3),
		"E": tensors.FromValue([][]float64{{-1}, {-2}, {-3}, {-4}}),
		"z": tensors.FromValue([]uint8{8, 1, 1}),
	}, filepath.Join(dir, "water.npz")))

	list := must.M1((&MD17{File: "water.npz"}).Materialize(dir))
	require.Equal(t, numFrames, list.Len())
	frame := list.At(2)
	assert.Equal(t, []int{numAtoms, 3}, frame.Get("node_coordinates").Shape().Dimensions)
	assert.Equal(t, 18.0, tensors.MustCopyFlatData[float64](frame.Get("node_coordinates"))[0])
	assert.Equal(t, -18.0, tensors.MustCopyFlatData[float64](frame.Get("node_forces"))[0])
	assert.Equal(t, []float64{-3}, frame.Get("graph_energy").Value())
	assert.Equal(t, []int32{8, 1, 1}, frame.Get("node_number").Value())
	require.NoError(t, frame.Validate())

	require.NoError(t, numpy.ToNpzFile(map[string]*tensors.Tensor{
		"R": tensors.FromFlatDataAndDimensions(coordinates, numFrames, numAtoms, 3),
	}, filepath.Join(dir, "broken.npz")))
	_, err := (&MD17{File: "broken.npz"}).Materialize(dir)
	require.ErrorIs(t, err, graphdata.ErrPropertyMissing)
}

func TestCora(t *testing.T) {
	dir := t.TempDir()
	writeFiles(t, dir, map[string]string{
		"cora.content": "31\t0\t1\t0\tTheory\n" +
			"1033\t1\t0\t0\tNeural_Networks\n" +
			"35\t1\t1\t1\tTheory\n",
		"cora.cites": "35\t1033\n35\t31\n31\t1033\n",
	})
	list := must.M1(Cora{}.Materialize(dir))
	require.Equal(t, 1, list.Len())
	r := list.At(0)
	assert.Equal(t, [][]float32{{0, 1, 0}, {1, 0, 0}, {1, 1, 1}}, r.Get("node_attributes").Value())
	assert.Equal(t, []int32{2, 6, 2}, r.Get("node_number").Value())
	assert.Equal(t, float32(1), tensors.MustCopyFlatData[float32](r.Get("node_labels"))[7+6])
	assert.Equal(t, [][]int32{{0, 1}, {2, 0}, {2, 1}}, r.Get(graphdata.EdgeIndices).Value())
	assert.Equal(t, [][]float32{{1}, {1}, {1}}, r.Get(graphdata.EdgeWeights).Value())

	writeFiles(t, dir, map[string]string{"cora.content": "31\t0\t1\t0\tPoetry\n"})
	_, err := Cora{}.Materialize(dir)
	require.ErrorContains(t, err, "Poetry")
}

func TestTables(t *testing.T) {
	dir := t.TempDir()
	writeFiles(t, dir, map[string]string{
		"labels.csv": "smiles,logP,active,name\nC,0.5,1,methane\nCC,1.5,0,ethane\n",
	})
	df := must.M1(ReadTable(filepath.Join(dir, "labels.csv")))
	list := graphdata.New(2)
	require.NoError(t, AssignColumns(list, df, []string{"logP", "active"}, "graph_labels"))
	assert.Equal(t, []float32{0.5, 1}, list.At(0).Get("graph_labels").Value())
	assert.Equal(t, []float32{1.5, 0}, list.At(1).Get("graph_labels").Value())

	require.Error(t, AssignColumns(list, df, []string{"name"}, "graph_names"))
	require.ErrorIs(t, AssignColumns(graphdata.New(3), df, []string{"logP"}, "graph_labels"), graphdata.ErrLengthMismatch)
	_, err := ReadTable(filepath.Join(dir, "missing.csv"))
	require.Error(t, err)

	assert.Contains(t, KnownNames(), "MUTAG")
	assert.Contains(t, KnownNames(), "cora_lu")
	ds := must.M1(Known("MD17_aspirin_dft", Config{DataDir: dir}))
	assert.Equal(t, filepath.Join(dir, "MD17_aspirin_dft", "MD17_aspirin_dft"+CacheSuffix), ds.CachePath())
	_, err = Known("unknown", Config{DataDir: dir})
	require.ErrorContains(t, err, "MUTAG")
}
