package engine

import "fmt"

// fitBestConstants tunes the constants of the current best candidate with the
// configured optimizer. An improved candidate is recorded and migrates into
// the island that will evolve next.
func (s *gpSearch) fitBestConstants() error {
	best := s.best()
	if best == nil {
		return nil
	}
	tree := best.tree.Clone()
	consts := constants(tree)
	if len(consts) == 0 {
		return nil
	}

	objective := func(params []float64) float64 {
		for i, c := range consts {
			c.Val = params[i]
		}
		return s.loss(tree)
	}

	params, _, err := s.optimizer.Minimize(objective, len(consts), -constantBound, constantBound, s.rng)
	if err != nil {
		return fmt.Errorf("constant fitting failed: %w", err)
	}
	for i, c := range consts {
		c.Val = params[i]
	}

	fitted := s.score(tree)
	if fitted.loss < best.loss {
		island := s.islands[s.nextIsland]
		island[oldest(island)] = fitted
	}
	return nil
}
