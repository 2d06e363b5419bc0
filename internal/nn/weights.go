package nn

import (
	"errors"
	"fmt"

	"jigsawssl/internal/model"
	"jigsawssl/internal/tensor"
)

var ErrWeightsMismatch = errors.New("weights do not match model")

func (m *Model) Weights() []model.ParamRecord {
	return paramRecords(m.Params())
}

func (m *Model) SetWeights(records []model.ParamRecord) error {
	if m.released {
		return fmt.Errorf("%w: %s", ErrReleased, m.name)
	}
	return assignParams(m.name, m.Params(), records)
}

func paramRecords(params []*Param) []model.ParamRecord {
	out := make([]model.ParamRecord, len(params))
	for i, p := range params {
		out[i] = model.ParamRecord{
			Name:   p.Name,
			Shape:  append([]int(nil), p.Shape...),
			Values: append([]float64(nil), p.Value...),
		}
	}
	return out
}

// assignParams requires an exact one-to-one match by name and shape; nothing
// is written unless every parameter matches.
func assignParams(modelName string, params []*Param, records []model.ParamRecord) error {
	byName := make(map[string]model.ParamRecord, len(records))
	for _, r := range records {
		byName[r.Name] = r
	}
	if len(byName) != len(params) {
		return fmt.Errorf("%w: model %s has %d params, checkpoint has %d", ErrWeightsMismatch, modelName, len(params), len(byName))
	}
	for _, p := range params {
		r, ok := byName[p.Name]
		if !ok {
			return fmt.Errorf("%w: missing %s", ErrWeightsMismatch, p.Name)
		}
		if !tensor.SameShape(r.Shape, p.Shape) || len(r.Values) != len(p.Value) {
			return fmt.Errorf("%w: %s has shape %s, want %s", ErrWeightsMismatch, p.Name,
				tensor.ShapeString(r.Shape), tensor.ShapeString(p.Shape))
		}
	}
	for _, p := range params {
		copy(p.Value, byName[p.Name].Values)
	}
	return nil
}
