package storage

import "time"

// CorpusUpdatedMessage 语料导入完成后发布，重建消费者据此重建并发布新的索引代
type CorpusUpdatedMessage struct {
	BatchID    string    `json:"batch_id"`
	ItemIDs    []string  `json:"item_ids"`
	ItemCount  int       `json:"item_count"`
	UpdatedAt  time.Time `json:"updated_at"`
	Source     string    `json:"source,omitempty"` // api / cli
	ForceBuild bool      `json:"force_build,omitempty"`
	FullSync   bool      `json:"full_sync,omitempty"`
	RetiredIDs []string  `json:"retired_ids,omitempty"`
}
