package models

// CalculateRequest asks for a reward preview. Nothing is persisted.
type CalculateRequest struct {
	Attributes SubmissionAttributes `json:"attributes"`
}

// FinalizeRequest makes a previewed submission durable. The bundle is
// recomputed server-side from the attributes; a client-supplied bundle is
// never trusted. SubmissionID is assigned when empty.
type FinalizeRequest struct {
	SubmissionID string               `json:"submission_id,omitempty"`
	Attributes   SubmissionAttributes `json:"attributes"`
}

// FinalizeResponse reports the durable bundle and any pools it opened
type FinalizeResponse struct {
	SubmissionID string            `json:"submission_id"`
	Bundle       *RewardBundle     `json:"bundle"`
	Pools        []*AllocationPool `json:"pools,omitempty"`
}

// AllocateRequest spends units from a pool on one recipient
type AllocateRequest struct {
	RecipientKind RecipientKind `json:"recipient_kind"`
	RecipientID   string        `json:"recipient_id"`
	Units         int           `json:"units"`
}

// PoolStatusResponse is the allocation history view for one pool
type PoolStatusResponse struct {
	Pool      *AllocationPool    `json:"pool"`
	Records   []AllocationRecord `json:"records"`
	PerTarget []EntityLevels     `json:"per_target"`
}
