package agentqa

import "time"

// BaselinePerformance is the rolling performance record of one (agent, mode).
type BaselinePerformance struct {
	AgentType         string    `json:"agent_type"`
	Mode              Mode      `json:"mode"`
	Accuracy          float64   `json:"accuracy"`
	Confidence        float64   `json:"confidence"`
	ResponseTimeMs    float64   `json:"response_time_ms"`
	TotalQueries      int       `json:"total_queries"`
	SuccessfulQueries int       `json:"successful_queries"`
	LastRunID         string    `json:"last_run_id,omitempty"`
	LastUpdated       time.Time `json:"last_updated"`
}

// MergeBaseline folds the summary of a new run into the stored record.
//
// The run's accuracy, confidence and response time replace the stored values,
// query counters accumulate, and LastUpdated never moves backwards: if the
// update is not newer than the stored record it is stamped one nanosecond
// after it. A nil existing record yields the update unchanged.
func MergeBaseline(existing *BaselinePerformance, update BaselinePerformance) BaselinePerformance {
	if update.LastUpdated.IsZero() {
		update.LastUpdated = time.Now().UTC()
	}
	if existing == nil {
		return update
	}

	merged := update
	merged.TotalQueries = existing.TotalQueries + update.TotalQueries
	merged.SuccessfulQueries = existing.SuccessfulQueries + update.SuccessfulQueries
	if merged.AgentType == "" {
		merged.AgentType = existing.AgentType
	}
	if merged.LastRunID == "" {
		merged.LastRunID = existing.LastRunID
	}
	if !merged.LastUpdated.After(existing.LastUpdated) {
		merged.LastUpdated = existing.LastUpdated.Add(time.Nanosecond)
	}
	return merged
}
