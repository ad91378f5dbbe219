package models

import "testing"

func TestAnomalyScoreNovelTemplatesOutrankGrownOnes(t *testing.T) {
	novel := LogCluster{CountIncident: 10, CountBaseline: 0}
	grown := LogCluster{CountIncident: 10, CountBaseline: 10}

	if novel.AnomalyScore() <= grown.AnomalyScore() {
		t.Fatalf("novel score %.3f should exceed steady score %.3f", novel.AnomalyScore(), grown.AnomalyScore())
	}
}

func TestAnomalyScoreRanges(t *testing.T) {
	cases := []struct {
		name     string
		incident int
		baseline int
		min, max float64
	}{
		{"empty", 0, 0, 0, 0},
		{"baseline only", 0, 50, 0, 0},
		{"novel small", 1, 0, 0.9, 0.91},
		{"novel large", 500, 0, 1.0, 1.0},
		{"steady", 10, 10, 0, 0},
		{"doubled", 20, 10, 0.19, 0.21},
		{"exploded", 1000, 10, 0.9, 0.9},
	}

	for _, tc := range cases {
		c := LogCluster{CountIncident: tc.incident, CountBaseline: tc.baseline}
		score := c.AnomalyScore()
		if score < tc.min || score > tc.max {
			t.Errorf("%s: score %.4f outside [%.2f, %.2f]", tc.name, score, tc.min, tc.max)
		}
		if score < 0 || score > 1 {
			t.Errorf("%s: score %.4f outside unit interval", tc.name, score)
		}
	}
}
