package stats

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"

	"gonum.org/v1/gonum/stat"
)

const runIndexFile = "run_index.json"

// RunConfig records what an evaluation run was asked to do.
type RunConfig struct {
	RunID               string  `json:"run_id"`
	DataDir             string  `json:"data_dir"`
	Checkpoint          string  `json:"checkpoint,omitempty"`
	PermutationPath     string  `json:"permutation_path"`
	Permutations        int     `json:"permutations"`
	SplitPerSide        int     `json:"split_per_side"`
	PatchDim            int     `json:"patch_dim"`
	Train3D             bool    `json:"train3D"`
	EncoderArchitecture string  `json:"encoder_architecture"`
	TopArchitecture     string  `json:"top_architecture"`
	BatchSize           int     `json:"batch_size"`
	Seed                int64   `json:"seed"`
	LR                  float64 `json:"lr"`
}

type BatchMetrics struct {
	Batch    int     `json:"batch"`
	Samples  int     `json:"samples"`
	Loss     float64 `json:"loss"`
	Accuracy float64 `json:"accuracy"`
}

type Summary struct {
	Samples     int     `json:"samples"`
	Loss        float64 `json:"loss"`
	Accuracy    float64 `json:"accuracy"`
	LossStd     float64 `json:"loss_std"`
	AccuracyMin float64 `json:"accuracy_min"`
	AccuracyMax float64 `json:"accuracy_max"`
}

// Summarize weights each batch by its sample count.
func Summarize(batches []BatchMetrics) Summary {
	if len(batches) == 0 {
		return Summary{}
	}
	losses := make([]float64, len(batches))
	accs := make([]float64, len(batches))
	weights := make([]float64, len(batches))
	out := Summary{AccuracyMin: batches[0].Accuracy, AccuracyMax: batches[0].Accuracy}
	for i, b := range batches {
		losses[i], accs[i], weights[i] = b.Loss, b.Accuracy, float64(b.Samples)
		out.Samples += b.Samples
		out.AccuracyMin = min(out.AccuracyMin, b.Accuracy)
		out.AccuracyMax = max(out.AccuracyMax, b.Accuracy)
	}
	if out.Samples == 0 {
		return out
	}
	out.Loss, out.LossStd = stat.MeanStdDev(losses, weights)
	out.Accuracy = stat.Mean(accs, weights)
	return out
}

type RunArtifacts struct {
	Config  RunConfig      `json:"config"`
	Batches []BatchMetrics `json:"batches"`
	Summary Summary        `json:"summary"`
}

type RunIndexEntry struct {
	RunID        string  `json:"run_id"`
	DataDir      string  `json:"data_dir"`
	Checkpoint   string  `json:"checkpoint,omitempty"`
	Samples      int     `json:"samples"`
	Loss         float64 `json:"loss"`
	Accuracy     float64 `json:"accuracy"`
	CreatedAtUTC string  `json:"created_at_utc"`
}

// WriteRunArtifacts writes config.json, batches.csv and summary.json under
// baseDir/<run id> and returns that directory.
func WriteRunArtifacts(baseDir string, artifacts RunArtifacts) (string, error) {
	if artifacts.Config.RunID == "" {
		return "", fmt.Errorf("run id is required")
	}

	runDir := filepath.Join(baseDir, artifacts.Config.RunID)
	if err := os.MkdirAll(runDir, 0o755); err != nil {
		return "", err
	}
	if err := writeJSON(filepath.Join(runDir, "config.json"), artifacts.Config); err != nil {
		return "", err
	}
	if err := writeBatchesCSV(filepath.Join(runDir, "batches.csv"), artifacts.Batches); err != nil {
		return "", err
	}
	if err := writeJSON(filepath.Join(runDir, "summary.json"), artifacts.Summary); err != nil {
		return "", err
	}
	return runDir, nil
}

func ReadSummary(baseDir, runID string) (Summary, bool, error) {
	data, err := os.ReadFile(filepath.Join(baseDir, runID, "summary.json"))
	if err != nil {
		if os.IsNotExist(err) {
			return Summary{}, false, nil
		}
		return Summary{}, false, err
	}
	var out Summary
	if err := json.Unmarshal(data, &out); err != nil {
		return Summary{}, false, err
	}
	return out, true, nil
}

func AppendRunIndex(baseDir string, entry RunIndexEntry) error {
	if entry.RunID == "" {
		return fmt.Errorf("run id is required")
	}
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return err
	}

	index, err := readRunIndex(baseDir)
	if err != nil {
		return err
	}
	for i := range index {
		if index[i].RunID == entry.RunID {
			index[i] = entry
			return writeJSON(filepath.Join(baseDir, runIndexFile), index)
		}
	}
	index = append(index, entry)
	return writeJSON(filepath.Join(baseDir, runIndexFile), index)
}

// ListRunIndex returns entries newest first.
func ListRunIndex(baseDir string) ([]RunIndexEntry, error) {
	entries, err := readRunIndex(baseDir)
	if err != nil {
		return nil, err
	}
	order := make([]int, len(entries))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		ea, eb := entries[order[a]], entries[order[b]]
		if ea.CreatedAtUTC == eb.CreatedAtUTC {
			// later appends win ties
			return order[a] > order[b]
		}
		return ea.CreatedAtUTC > eb.CreatedAtUTC
	})
	out := make([]RunIndexEntry, len(entries))
	for i, idx := range order {
		out[i] = entries[idx]
	}
	return out, nil
}

// readRunIndex returns entries in append order.
func readRunIndex(baseDir string) ([]RunIndexEntry, error) {
	data, err := os.ReadFile(filepath.Join(baseDir, runIndexFile))
	if err != nil {
		if os.IsNotExist(err) {
			return []RunIndexEntry{}, nil
		}
		return nil, err
	}
	var entries []RunIndexEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, err
	}
	return entries, nil
}

func writeBatchesCSV(path string, batches []BatchMetrics) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write([]string{"batch", "samples", "loss", "accuracy"}); err != nil {
		return err
	}
	for _, b := range batches {
		row := []string{
			strconv.Itoa(b.Batch),
			strconv.Itoa(b.Samples),
			strconv.FormatFloat(b.Loss, 'g', -1, 64),
			strconv.FormatFloat(b.Accuracy, 'g', -1, 64),
		}
		if err := w.Write(row); err != nil {
			return err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return err
	}
	return f.Sync()
}

func writeJSON(path string, value any) error {
	data, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return err
	}
	data = append(data, '\n')
	return os.WriteFile(path, data, 0o644)
}
