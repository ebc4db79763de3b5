package budget

import "fmt"

// ErrContextOverflow is the hard overflow condition: even retrieval-augmented
// mode with zero history does not fit the model's context budget.
type ErrContextOverflow struct {
	Budget    int
	Estimated int
}

func (e ErrContextOverflow) Error() string {
	return fmt.Sprintf("context overflow: estimated %d tokens exceeds budget %d even with no history in retrieval mode", e.Estimated, e.Budget)
}
