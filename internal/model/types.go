package model

// TimestampLayout formats every persisted UTC creation time. Fixed width
// keeps lexical order equal to chronological order.
const TimestampLayout = "2006-01-02T15:04:05.000000000Z"

// VersionedRecord captures schema and codec evolution for persistent data.
type VersionedRecord struct {
	SchemaVersion int `json:"schema_version"`
	CodecVersion  int `json:"codec_version"`
}

// ParamRecord is the persisted value of one named model parameter.
type ParamRecord struct {
	Name   string    `json:"name"`
	Shape  []int     `json:"shape"`
	Values []float64 `json:"values"`
}

// Checkpoint holds the weights of one model graph.
type Checkpoint struct {
	VersionedRecord
	ID           string        `json:"id"`
	ModelName    string        `json:"model_name"`
	CreatedAtUTC string        `json:"created_at_utc"`
	Params       []ParamRecord `json:"params"`
}

// CheckpointSummary is the listing view of a stored checkpoint.
type CheckpointSummary struct {
	ID           string `json:"id"`
	ModelName    string `json:"model_name"`
	CreatedAtUTC string `json:"created_at_utc"`
	ParamCount   int    `json:"param_count"`
}

func (c Checkpoint) Summary() CheckpointSummary {
	n := 0
	for _, p := range c.Params {
		n += len(p.Values)
	}
	return CheckpointSummary{ID: c.ID, ModelName: c.ModelName, CreatedAtUTC: c.CreatedAtUTC, ParamCount: n}
}
