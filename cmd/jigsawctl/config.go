package main

import (
	"encoding/json"
	"fmt"
	"os"

	"jigsawssl/internal/jigsaw"
)

// runConfig is the builder configuration plus the dataset settings used by
// the evaluate command.
type runConfig struct {
	Builder   jigsaw.Config
	DataDir   string
	BatchSize int
	NClasses  int
}

func defaultRunConfig() runConfig {
	return runConfig{Builder: jigsaw.DefaultConfig(), BatchSize: 8, NClasses: 2}
}

func loadRunConfig(path string) (runConfig, error) {
	cfg := defaultRunConfig()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return runConfig{}, err
	}
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return runConfig{}, fmt.Errorf("decode config %s: %w", path, err)
	}

	b := &cfg.Builder
	if v, ok := asInt(raw["data_dim"]); ok {
		b.DataDim = v
	}
	if v, ok := asInt(raw["split_per_side"]); ok {
		b.SplitPerSide = v
	}
	if v, ok := asInt(raw["patch_jitter"]); ok {
		b.PatchJitter = v
	}
	if v, ok := asInt(raw["n_channels"]); ok {
		b.NChannels = v
	}
	if v, ok := asFloat64(raw["lr"]); ok {
		b.LR = v
	}
	if v, ok := asInt(raw["embed_dim"]); ok {
		b.EmbedDim = v
	}
	if v, ok := asBool(raw["train3D"]); ok {
		b.Train3D = v
	}
	if v, ok := asInt(raw["patch_dim"]); ok {
		b.PatchDim = v
	}
	if v, ok := asString(raw["top_architecture"]); ok {
		b.TopArchitecture = v
	}
	if v, ok := asString(raw["encoder_architecture"]); ok {
		b.EncoderArchitecture = v
	}
	if v, ok := asString(raw["permutation_path"]); ok {
		b.PermutationPath = v
	}
	if v, ok := asInt(raw["n_permutations"]); ok {
		b.NPermutations = v
	}
	if v, ok := asInt64(raw["seed"]); ok {
		b.Seed = v
	}
	if v, ok := raw["encoder_options"].(map[string]any); ok {
		b.EncoderOptions = v
	}

	if v, ok := asString(raw["data_dir"]); ok {
		cfg.DataDir = v
	}
	if v, ok := asInt(raw["batch_size"]); ok {
		cfg.BatchSize = v
	}
	if v, ok := asInt(raw["number_classes"]); ok {
		cfg.NClasses = v
	}
	return cfg, nil
}

func overrideFromFlags(cfg *runConfig, set map[string]bool, flagValue map[string]any) {
	for name := range set {
		v, ok := flagValue[name]
		if !ok {
			continue
		}
		switch name {
		case "perms":
			cfg.Builder.PermutationPath = v.(string)
		case "seed":
			cfg.Builder.Seed = v.(int64)
		case "3d":
			cfg.Builder.Train3D = v.(bool)
		case "data":
			cfg.DataDir = v.(string)
		case "batch-size":
			cfg.BatchSize = v.(int)
		}
	}
}

func asString(v any) (string, bool) {
	s, ok := v.(string)
	return s, ok
}

func asBool(v any) (bool, bool) {
	b, ok := v.(bool)
	return b, ok
}

func asInt(v any) (int, bool) {
	switch x := v.(type) {
	case int:
		return x, true
	case float64:
		return int(x), true
	default:
		return 0, false
	}
}

func asInt64(v any) (int64, bool) {
	switch x := v.(type) {
	case int64:
		return x, true
	case int:
		return int64(x), true
	case float64:
		return int64(x), true
	default:
		return 0, false
	}
}

func asFloat64(v any) (float64, bool) {
	switch x := v.(type) {
	case float64:
		return x, true
	case int:
		return float64(x), true
	default:
		return 0, false
	}
}
