package jigsaw

import (
	"fmt"
	"sort"

	"gonum.org/v1/gonum/stat"

	"jigsawssl/internal/nn"
	"jigsawssl/internal/tensor"
)

// TrainingModel is the permutation classifier together with its optimizer,
// loss and metrics. Gradient updates happen outside this package.
type TrainingModel struct {
	*nn.Model
	Optimizer nn.Adam
	Loss      nn.LossFunc
	Metrics   map[string]nn.MetricFunc
}

type Evaluation struct {
	Loss    float64
	Metrics map[string]float64
	Samples int
}

func (e Evaluation) Accuracy() float64 { return e.Metrics["accuracy"] }

// Evaluate runs the classifier over a preprocessed batch and averages the
// loss and each metric.
func (m *TrainingModel) Evaluate(xs, ys []tensor.Tensor) (Evaluation, error) {
	if len(xs) != len(ys) {
		return Evaluation{}, fmt.Errorf("%d inputs with %d targets", len(xs), len(ys))
	}
	if len(xs) == 0 {
		return Evaluation{}, fmt.Errorf("empty batch")
	}
	preds, err := m.PredictBatch(xs)
	if err != nil {
		return Evaluation{}, err
	}

	losses := make([]float64, len(xs))
	scores := make(map[string][]float64, len(m.Metrics))
	for i, pred := range preds {
		if losses[i], err = m.Loss(pred.Data, ys[i].Data); err != nil {
			return Evaluation{}, fmt.Errorf("sample %d: %w", i, err)
		}
		for name, metric := range m.Metrics {
			v, err := metric(pred.Data, ys[i].Data)
			if err != nil {
				return Evaluation{}, fmt.Errorf("sample %d metric %s: %w", i, name, err)
			}
			scores[name] = append(scores[name], v)
		}
	}

	out := Evaluation{Loss: stat.Mean(losses, nil), Metrics: make(map[string]float64, len(scores)), Samples: len(xs)}
	for name, vs := range scores {
		out.Metrics[name] = stat.Mean(vs, nil)
	}
	return out, nil
}

func (e Evaluation) MetricNames() []string {
	names := make([]string, 0, len(e.Metrics))
	for name := range e.Metrics {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
