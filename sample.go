package statshard

// sampled is the probabilistic gate applied to every measurement. Rates of
// one and above always pass. Below one, it draws a uniform value from the
// client's random source and passes when the draw is at or below the rate:
// the threshold is inclusive, so a deterministic source returning exactly
// the rate forces delivery.
//
// Callers hold c.mtx; the random source is not safe for unsynchronized use.
func (c *Client) sampled(rate float64) bool {
	if rate >= 1 {
		return true
	}
	return c.randFloat() <= rate
}
