package compose

// TokenEstimator approximates how many model tokens a text costs.
type TokenEstimator interface {
	Estimate(text string) int
}

// CharEstimator assumes roughly four bytes per token.
type CharEstimator struct{}

// Estimate implements TokenEstimator.
func (CharEstimator) Estimate(text string) int {
	if text == "" {
		return 0
	}
	return (len(text) + 3) / 4
}

// EstimatorFunc adapts a function to TokenEstimator.
type EstimatorFunc func(string) int

// Estimate implements TokenEstimator.
func (f EstimatorFunc) Estimate(text string) int { return f(text) }
