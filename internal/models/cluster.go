package models

import "time"

// LogCluster groups log messages that share a template after variable tokens
// are masked. Counts cover one incident window plus the matching baseline
// window; a cluster is immutable once both counts are filled in.
type LogCluster struct {
	Fingerprint   string
	Template      string
	CountIncident int
	CountBaseline int
	FirstSeen     time.Time
	Example       string
}

// AnomalyScore rates how suspicious the cluster is, in [0,1]. Templates never
// seen in the baseline score highest; templates whose incident count is a
// small multiple of baseline score near zero.
func (c LogCluster) AnomalyScore() float64 {
	inc := float64(c.CountIncident)
	base := float64(c.CountBaseline)

	switch {
	case c.CountIncident <= 0:
		return 0
	case c.CountBaseline == 0:
		score := 0.9 + inc/200.0
		if score > 1 {
			score = 1
		}
		return score
	default:
		ratio := inc / base
		score := (ratio - 1.0) / 5.0
		if score < 0 {
			score = 0
		}
		if score > 0.9 {
			score = 0.9
		}
		return score
	}
}
