package model

// Epitope is one predicted linear B-cell epitope belonging to a task.
// Immutable once produced by the pipeline.
type Epitope struct {
	ID               int64      `json:"id"`
	N                int        `json:"n"`
	Sequence         string     `json:"epitope"`
	Start            int        `json:"start"`
	End              int        `json:"end"`
	Length           int        `json:"length"`
	MolecularWeight  float64    `json:"mwKDa"`
	IsoelectricPoint float64    `json:"iP"`
	Hydropathy       float64    `json:"hydropathy"`
	BepiPred3        float64    `json:"bepiPred3"`
	Emini            float64    `json:"emini"`
	Kolaskar         float64    `json:"kolaskar"`
	ChouFasman       float64    `json:"chouFosman"`
	KarplusSchulz    float64    `json:"karplusSchulz"`
	Parker           float64    `json:"parker"`
	NGlyc            string     `json:"nglyc,omitempty"`
	NGlycCount       int        `json:"nglycCount"`
	Topologies       []Topology `json:"epitopeTopologies,omitempty"`
	Comparisons      []Blast    `json:"blasts,omitempty"`
}

// Topology is a per-method structural detail row for one epitope.
type Topology struct {
	N         int     `json:"n"`
	Method    Method  `json:"method"`
	Threshold float64 `json:"threshold"`
	AvgScore  float64 `json:"avgScore"`
	Cover     float64 `json:"cover"`
}

// Blast is one similarity-search hit of an epitope against a
// reference proteome.
type Blast struct {
	ProteomeAlias string  `json:"proteomeAlias"`
	SubjectID     string  `json:"subjectId"`
	Identity      float64 `json:"identity"`
	Cover         float64 `json:"cover"`
	EValue        float64 `json:"eValue"`
	Bitscore      float64 `json:"bitscore"`
}
