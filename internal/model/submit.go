package model

// TaskSubmission is the JSON "data" part of the multipart POST
// /epitopes/tasks/new body. File parts travel alongside it: one "file"
// part with the sequences and zero or more "proteomes" parts consumed
// in order by fasta_blast entries.
type TaskSubmission struct {
	RunName                string       `json:"runName" validate:"required"`
	ActionType             ActionType   `json:"actionType" validate:"required,oneof=DEFAULT CUSTOMIZED"`
	BepipredThreshold      float64      `json:"bepipredThreshold" validate:"min=0,max=1"`
	MinEpitopeLength       int          `json:"minEpitopeLength" validate:"omitempty,min=1,max=100"`
	MaxEpitopeLength       int          `json:"maxEpitopeLength" validate:"omitempty,min=1,max=100"`
	DoBlast                bool         `json:"doBlast"`
	BlastMinIdentityCutoff float64      `json:"blastMinIdentityCutoff" validate:"min=0,max=100"`
	BlastMinCoverCutoff    float64      `json:"blastMinCoverCutoff" validate:"min=0,max=100"`
	BlastWordSize          int          `json:"blastWordSize" validate:"min=0,max=100"`
	Proteomes              []ProteomeRef `json:"proteomes" validate:"omitempty,dive"`
}

// ProteomeRef selects one reference proteome for the similarity search:
// either an already registered database or a FASTA file uploaded with
// the submission.
type ProteomeRef struct {
	SourceType   SourceType `json:"sourceType" validate:"required,oneof=database fasta_blast"`
	Alias        string     `json:"alias"`
	DatabaseID   int64      `json:"databaseId,omitempty"`
	OriginalName string     `json:"originalName,omitempty"`
}

// Normalize forces default parameters for DEFAULT runs so a stale client
// cannot smuggle tuned values under the default action.
func (s *TaskSubmission) Normalize() {
	if s.ActionType == ActionDefault {
		s.BepipredThreshold = DefaultBepipredThreshold
		s.MinEpitopeLength = DefaultMinEpitopeLength
		s.MaxEpitopeLength = DefaultMaxEpitopeLength
	}
	if s.DoBlast {
		if s.BlastMinIdentityCutoff == 0 {
			s.BlastMinIdentityCutoff = DefaultBlastIdentity
		}
		if s.BlastMinCoverCutoff == 0 {
			s.BlastMinCoverCutoff = DefaultBlastCover
		}
		if s.BlastWordSize == 0 {
			s.BlastWordSize = DefaultBlastWordSize
		}
	}
}

// SubmitResponse acknowledges an accepted task submission.
type SubmitResponse struct {
	TaskID  int64  `json:"taskId"`
	UUID    string `json:"uuid"`
	Message string `json:"message"`
}
