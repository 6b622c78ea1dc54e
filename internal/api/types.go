package api

import "github.com/samcharles93/hybridlm/internal/model"

type ErrorBody struct {
	Message string `json:"message"`
	Type    string `json:"type"`
}

type LayerInfo struct {
	Index   int    `json:"index"`
	Type    string `json:"type"`
	KVHeads int    `json:"kv_heads"`
	Params  int    `json:"params"`
}

type ModelInfo struct {
	Pattern   string       `json:"pattern"`
	VocabSize int          `json:"vocab_size"`
	Params    int          `json:"params"`
	KVHeads   []int        `json:"kv_heads"`
	Layers    []LayerInfo  `json:"layers"`
	Config    model.Config `json:"config"`
}

type CreateSessionRequest struct {
	KVDType    string `json:"kv_dtype,omitempty"`
	KVCapacity int    `json:"kv_capacity,omitempty"`
	Batch      int    `json:"batch,omitempty"`
}

type SlotInfo struct {
	Layer int    `json:"layer"`
	Kind  string `json:"kind"`
	Bytes int    `json:"bytes"`
}

type SessionInfo struct {
	ID         string     `json:"id"`
	CreatedAt  int64      `json:"created_at"`
	Length     int        `json:"length"`
	Batch      int        `json:"batch"`
	KVDType    string     `json:"kv_dtype"`
	CacheBytes int        `json:"cache_bytes"`
	Slots      []SlotInfo `json:"slots"`
}

type ForwardRequest struct {
	Tokens       [][]int `json:"tokens"`
	ReturnLogits bool    `json:"return_logits,omitempty"`
}

type ForwardResponse struct {
	SessionID string `json:"session_id,omitempty"`
	Shape     []int  `json:"shape"`
	// Length is the number of positions the session holds after the call.
	Length int `json:"length,omitempty"`
	// Next is the argmax of the final position of every batch row.
	Next   []int         `json:"next"`
	Logits [][][]float32 `json:"logits,omitempty"`
}

type DeleteResponse struct {
	ID      string `json:"id"`
	Deleted bool   `json:"deleted"`
}
