package main

import (
	"context"
	"flag"
	"fmt"
	"math/rand"
	"os"
	"time"

	"github.com/google/uuid"
	"k8s.io/klog/v2"

	"jigsawssl/internal/arch"
	"jigsawssl/internal/dataset"
	"jigsawssl/internal/jigsaw"
	"jigsawssl/internal/model"
	"jigsawssl/internal/nn"
	"jigsawssl/internal/permutation"
	"jigsawssl/internal/stats"
	"jigsawssl/internal/tensor"
)

func main() {
	err := run(context.Background(), os.Args[1:])
	klog.Flush()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return usageError("missing command")
	}

	switch args[0] {
	case "permutations":
		return runPermutations(ctx, args[1:])
	case "inspect":
		return runInspect(ctx, args[1:])
	case "build":
		return runBuild(ctx, args[1:])
	case "init-weights":
		return runInitWeights(ctx, args[1:])
	case "finetune":
		return runFinetune(ctx, args[1:])
	case "evaluate":
		return runEvaluate(ctx, args[1:])
	case "architectures":
		return runArchitectures(ctx, args[1:])
	default:
		return usageError(fmt.Sprintf("unknown command: %s", args[0]))
	}
}

func newFlagSet(name string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	klog.InitFlags(fs)
	return fs
}

func runPermutations(_ context.Context, args []string) error {
	fs := newFlagSet("permutations")
	n := fs.Int("n", 9, "number of patches each permutation reorders")
	k := fs.Int("k", 100, "number of distinct permutations")
	seed := fs.Int64("seed", 1, "random seed")
	out := fs.String("out", "permutations.npy", "output .npy path")
	if err := fs.Parse(args); err != nil {
		return err
	}

	set, err := permutation.Generate(*n, *k, rand.New(rand.NewSource(*seed)))
	if err != nil {
		return err
	}
	if err := permutation.Save(*out, set); err != nil {
		return err
	}
	fmt.Printf("wrote permutations n=%d k=%d path=%s\n", set.N(), set.Len(), *out)
	return nil
}

func runInspect(_ context.Context, args []string) error {
	fs := newFlagSet("inspect")
	path := fs.String("path", "", "permutation .npy path")
	rows := fs.Int("rows", 5, "number of permutations to print")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *path == "" {
		return usageError("inspect requires -path")
	}

	set, err := permutation.Load(*path, 0, 0)
	if err != nil {
		return err
	}
	fmt.Printf("permutations k=%d n=%d\n", set.Len(), set.N())
	for i := 0; i < set.Len() && i < *rows; i++ {
		fmt.Printf("%4d %v\n", i, set.At(i))
	}
	return nil
}

type builderFlags struct {
	fs      *flag.FlagSet
	config  *string
	perms   *string
	seed    *int64
	train3D *bool
}

func addBuilderFlags(fs *flag.FlagSet) builderFlags {
	return builderFlags{
		fs:      fs,
		config:  fs.String("config", "", "optional JSON config path"),
		perms:   fs.String("perms", "", "permutation .npy path"),
		seed:    fs.Int64("seed", 1, "random seed"),
		train3D: fs.Bool("3d", false, "volumetric patches"),
	}
}

func (f builderFlags) resolve(extra map[string]any) (runConfig, error) {
	set := make(map[string]bool)
	f.fs.Visit(func(fl *flag.Flag) {
		set[fl.Name] = true
	})
	cfg, err := loadRunConfig(*f.config)
	if err != nil {
		return runConfig{}, err
	}
	values := map[string]any{
		"perms": *f.perms,
		"seed":  *f.seed,
		"3d":    *f.train3D,
	}
	for k, v := range extra {
		values[k] = v
	}
	overrideFromFlags(&cfg, set, values)
	if cfg.Builder.PermutationPath == "" {
		return runConfig{}, usageError("a permutation path is required (-perms or permutation_path)")
	}
	return cfg, nil
}

func runBuild(_ context.Context, args []string) error {
	fs := newFlagSet("build")
	bf := addBuilderFlags(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}
	cfg, err := bf.resolve(nil)
	if err != nil {
		return err
	}

	b, err := jigsaw.NewBuilder(cfg.Builder)
	if err != nil {
		return err
	}
	defer b.Purge()
	tm, err := b.GetTrainingModel()
	if err != nil {
		return err
	}
	fmt.Println(tm.Summary())
	fmt.Printf("built model=%s input=%s classes=%d params=%d\n", tm.Name(),
		tensor.ShapeString(tm.InputShape()), b.Permutations().Len(), tm.CountParams())
	return nil
}

func runInitWeights(ctx context.Context, args []string) error {
	fs := newFlagSet("init-weights")
	bf := addBuilderFlags(fs)
	out := fs.String("out", "jigsaw_weights.json", "checkpoint path (.json, or .db with the sqlite build tag)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	cfg, err := bf.resolve(nil)
	if err != nil {
		return err
	}

	b, err := jigsaw.NewBuilder(cfg.Builder)
	if err != nil {
		return err
	}
	defer b.Purge()
	m, err := b.ApplyModel()
	if err != nil {
		return err
	}
	id, err := jigsaw.SaveWeights(ctx, *out, m)
	if err != nil {
		return err
	}
	fmt.Printf("saved checkpoint id=%s model=%s path=%s\n", id, m.Name(), *out)
	return nil
}

func runFinetune(ctx context.Context, args []string) error {
	fs := newFlagSet("finetune")
	bf := addBuilderFlags(fs)
	checkpoint := fs.String("checkpoint", "", "pretrained checkpoint path")
	if err := fs.Parse(args); err != nil {
		return err
	}
	cfg, err := bf.resolve(nil)
	if err != nil {
		return err
	}

	b, err := jigsaw.NewBuilder(cfg.Builder)
	if err != nil {
		return err
	}
	defer b.Purge()
	// the pretraining graph records the encoder taps a 3D model needs
	if _, err := b.GetTrainingModel(); err != nil {
		return err
	}
	m, err := b.GetFinetuningModel(ctx, *checkpoint)
	if err != nil {
		return err
	}
	for i, shape := range m.OutputShapes() {
		fmt.Printf("output %d name=%s shape=%s\n", i, m.Output(i).Name(), tensor.ShapeString(shape))
	}
	if data := b.LayerData(); data != nil && data.Deepest != nil {
		fmt.Printf("deepest shape=%s pooling=%t\n", tensor.ShapeString(data.Deepest.Shape), data.Deepest.Pooling)
	}
	return nil
}

func runEvaluate(ctx context.Context, args []string) error {
	fs := newFlagSet("evaluate")
	bf := addBuilderFlags(fs)
	dataDir := fs.String("data", "", "directory of .npy samples")
	batchSize := fs.Int("batch-size", 8, "samples per batch")
	checkpoint := fs.String("checkpoint", "", "optional checkpoint to restore")
	reportDir := fs.String("report-dir", "", "write evaluation artifacts under this directory")
	if err := fs.Parse(args); err != nil {
		return err
	}
	cfg, err := bf.resolve(map[string]any{"data": *dataDir, "batch-size": *batchSize})
	if err != nil {
		return err
	}
	if cfg.DataDir == "" {
		return usageError("evaluate requires -data or data_dir")
	}

	b, err := jigsaw.NewBuilder(cfg.Builder)
	if err != nil {
		return err
	}
	defer b.Purge()
	tm, err := b.GetTrainingModel()
	if err != nil {
		return err
	}
	if *checkpoint != "" {
		if err := jigsaw.LoadWeights(ctx, *checkpoint, tm.Model); err != nil {
			return err
		}
	}

	_, val := b.GetTrainingPreprocessing()
	spatial := 2
	if cfg.Builder.Train3D {
		spatial = 3
	}
	loader, err := dataset.NewLoader(dataset.Options{
		Dir:         cfg.DataDir,
		BatchSize:   cfg.BatchSize,
		NClasses:    cfg.NClasses,
		SpatialDims: spatial,
		Preprocess:  val,
		Seed:        cfg.Builder.Seed,
	})
	if err != nil {
		return err
	}

	var batches []stats.BatchMetrics
	for i := 0; i < loader.Len(); i++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		xs, ys, err := loader.Batch(i)
		if err != nil {
			return err
		}
		ev, err := tm.Evaluate(xs, ys)
		if err != nil {
			return fmt.Errorf("batch %d: %w", i, err)
		}
		batches = append(batches, stats.BatchMetrics{Batch: i, Samples: ev.Samples, Loss: ev.Loss, Accuracy: ev.Accuracy()})
		klog.V(1).InfoS("evaluated batch", "batch", i, "loss", ev.Loss, "accuracy", ev.Accuracy())
	}
	summary := stats.Summarize(batches)
	if summary.Samples == 0 {
		return fmt.Errorf("no samples evaluated in %s", cfg.DataDir)
	}
	fmt.Printf("evaluated samples=%d loss=%.6f accuracy=%.4f\n", summary.Samples, summary.Loss, summary.Accuracy)

	if *reportDir == "" {
		return nil
	}
	runID := uuid.NewString()
	runDir, err := stats.WriteRunArtifacts(*reportDir, stats.RunArtifacts{
		Config: stats.RunConfig{
			RunID:               runID,
			DataDir:             cfg.DataDir,
			Checkpoint:          *checkpoint,
			PermutationPath:     cfg.Builder.PermutationPath,
			Permutations:        b.Permutations().Len(),
			SplitPerSide:        cfg.Builder.SplitPerSide,
			PatchDim:            b.PatchDim(),
			Train3D:             cfg.Builder.Train3D,
			EncoderArchitecture: cfg.Builder.EncoderArchitecture,
			TopArchitecture:     cfg.Builder.TopArchitecture,
			BatchSize:           cfg.BatchSize,
			Seed:                cfg.Builder.Seed,
			LR:                  cfg.Builder.LR,
		},
		Batches: batches,
		Summary: summary,
	})
	if err != nil {
		return err
	}
	if err := stats.AppendRunIndex(*reportDir, stats.RunIndexEntry{
		RunID:        runID,
		DataDir:      cfg.DataDir,
		Checkpoint:   *checkpoint,
		Samples:      summary.Samples,
		Loss:         summary.Loss,
		Accuracy:     summary.Accuracy,
		CreatedAtUTC: time.Now().UTC().Format(model.TimestampLayout),
	}); err != nil {
		return err
	}
	fmt.Printf("report run_id=%s dir=%s\n", runID, runDir)
	return nil
}

func runArchitectures(_ context.Context, args []string) error {
	fs := newFlagSet("architectures")
	if err := fs.Parse(args); err != nil {
		return err
	}
	fmt.Print(describeArchitectures())
	return nil
}

// describeArchitectures lists the names a config may use for
// encoder_architecture, top_architecture and the activation option.
func describeArchitectures() string {
	return fmt.Sprintf("encoders=%v\nheads=%v\nactivations=%v\n",
		arch.ListEncoders(), arch.ListHeads(), nn.ListActivations())
}

func usageError(msg string) error {
	return fmt.Errorf("%s\nusage: jigsawctl <permutations|inspect|build|init-weights|finetune|evaluate|architectures> [flags]", msg)
}
