package scoring

// Status is the display band for a normalized score.
type Status string

const (
	StatusGood             Status = "Good"
	StatusAverage          Status = "Average"
	StatusNeedsImprovement Status = "Needs Improvement"
)

// Band thresholds; each is inclusive on its lower edge.
const (
	GoodThreshold    = 70.0
	AverageThreshold = 40.0
)

// Classify returns the status band for score.
func Classify(score float64) Status {
	switch {
	case score >= GoodThreshold:
		return StatusGood
	case score >= AverageThreshold:
		return StatusAverage
	default:
		return StatusNeedsImprovement
	}
}
