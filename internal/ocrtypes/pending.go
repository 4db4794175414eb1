package ocrtypes

import "time"

// PendingState is the durable record the tier controller persists
// while an image's judge request is outstanding. It carries everything
// the callback receiver's resume needs, including the already-finalized
// results of earlier images in the same job (only one suspension is
// outstanding per job at a time).
type PendingState struct {
	OriginalJob      JobEnvelope    `json:"original_job"`
	ImageIndex       int            `json:"image_index"`
	TierName         string         `json:"tier_name"`
	OCRText          string         `json:"ocr_text"`
	Truncated        bool           `json:"truncated"`
	RemainingTiers   []string       `json:"remaining_tiers"`
	ProcessedResults []ResultRecord `json:"processed_results"`
	ValidationJobID  string         `json:"validation_job_id"`
	CreatedAt        time.Time      `json:"created_at"`
}

// Verdict is the judge's (possibly synthesized) verdict on one tier attempt.
type Verdict struct {
	IsValid    bool
	Confidence float64
	Reason     string
}
