package checkpoint

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Version is the current checkpoint format version.
// Increment when making breaking changes to checkpoint structure.
const Version = 2

// Source values recorded in Metadata.
const (
	// SourceInput marks a checkpoint written for caller-supplied state.
	SourceInput = "input"
	// SourceLoop marks a checkpoint written by the executor after a node.
	SourceLoop = "loop"
	// SourceUpdate marks a checkpoint written after an out-of-band state edit.
	SourceUpdate = "update"
)

// Metadata describes where in a run a checkpoint was taken.
type Metadata struct {
	Source string `json:"source"`
	Step   int    `json:"step"`
	Node   string `json:"node,omitempty"`
	// Next is the node the executor would run after this checkpoint,
	// or the terminal marker when the run finished.
	Next  string `json:"next,omitempty"`
	RunID string `json:"run_id,omitempty"`
}

// Checkpoint is the persisted snapshot of a thread's state.
type Checkpoint struct {
	Version            int             `json:"version"`
	ThreadID           string          `json:"thread_id"`
	CheckpointID       string          `json:"checkpoint_id"`
	ParentCheckpointID string          `json:"parent_checkpoint_id,omitempty"`
	Sequence           int64           `json:"sequence"`
	State              json.RawMessage `json:"state"`
	Metadata           Metadata        `json:"metadata"`
	CreatedAt          time.Time       `json:"created_at"`
}

// Marshal serializes a checkpoint to JSON.
func (c *Checkpoint) Marshal() ([]byte, error) {
	return json.Marshal(c)
}

// Unmarshal deserializes a checkpoint from JSON.
func Unmarshal(data []byte) (*Checkpoint, error) {
	var c Checkpoint
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, err
	}
	return &c, nil
}

// newCheckpoint builds a checkpoint with a fresh ID.
// The state bytes are copied so callers may reuse their buffer.
func newCheckpoint(threadID string, seq int64, state json.RawMessage, meta Metadata, parentID string) *Checkpoint {
	return &Checkpoint{
		Version:            Version,
		ThreadID:           threadID,
		CheckpointID:       uuid.NewString(),
		ParentCheckpointID: parentID,
		Sequence:           seq,
		State:              append(json.RawMessage(nil), state...),
		Metadata:           meta,
		CreatedAt:          time.Now().UTC(),
	}
}

// clone returns a deep copy safe to hand to callers.
func (c *Checkpoint) clone() *Checkpoint {
	cp := *c
	cp.State = append(json.RawMessage(nil), c.State...)
	return &cp
}
