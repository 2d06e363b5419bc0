package nn

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
)

const crossEntropyEpsilon = 1e-7

// Adam holds optimizer hyperparameters for a compiled model.
type Adam struct {
	LearningRate float64
	Beta1        float64
	Beta2        float64
	Epsilon      float64
}

func NewAdam(lr float64) Adam {
	return Adam{LearningRate: lr, Beta1: 0.9, Beta2: 0.999, Epsilon: 1e-7}
}

type LossFunc func(pred, target []float64) (float64, error)

type MetricFunc func(pred, target []float64) (float64, error)

// CategoricalCrossEntropy expects pred to be a probability vector.
func CategoricalCrossEntropy(pred, target []float64) (float64, error) {
	if len(pred) != len(target) {
		return 0, fmt.Errorf("%w: prediction length %d, target length %d", ErrLayerShape, len(pred), len(target))
	}
	loss := 0.0
	for i, t := range target {
		if t == 0 {
			continue
		}
		p := math.Min(math.Max(pred[i], crossEntropyEpsilon), 1-crossEntropyEpsilon)
		loss -= t * math.Log(p)
	}
	return loss, nil
}

func CategoricalAccuracy(pred, target []float64) (float64, error) {
	if len(pred) != len(target) || len(pred) == 0 {
		return 0, fmt.Errorf("%w: prediction length %d, target length %d", ErrLayerShape, len(pred), len(target))
	}
	if floats.MaxIdx(pred) == floats.MaxIdx(target) {
		return 1, nil
	}
	return 0, nil
}
