/*
signals.go - Eligibility signals provider port

PURPOSE:
  Read-only input to tiering and bonus calculation: earned badges, required
  training completion, and historical on-time ratio. The provider lives
  outside this engine (it is derived from booking history and the badge
  system); this file defines the contract and the degradation rule.

DEGRADATION RULE:
  If the provider errors (upstream outage), tiering resolves to Standard and
  the bonus is zero. Payout NEVER blocks on missing eligibility signals.
*/
package settlement

import "context"

// SignalsProvider supplies per-worker eligibility signals.
type SignalsProvider interface {
	// Badges returns the set of badge names the worker has earned.
	Badges(ctx context.Context, workerID WorkerID) (map[string]bool, error)

	// TrainingComplete reports whether the worker finished the required
	// training for their role.
	TrainingComplete(ctx context.Context, workerID WorkerID, role string) (bool, error)

	// OnTimeRatio returns the on-time completion ratio in [0,1] over the
	// trailing window of completed jobs. ok is false when the worker has
	// no history for the window.
	OnTimeRatio(ctx context.Context, workerID WorkerID, window int) (ratio float64, ok bool, err error)
}

// StaticSignals is a fixed-value provider for tests and demo seeds.
type StaticSignals struct {
	BadgeSet map[WorkerID]map[string]bool
	Trained  map[WorkerID]bool
	Ratios   map[WorkerID]float64
	Err      error // when set, every call fails (simulates an outage)
}

func (s *StaticSignals) Badges(_ context.Context, id WorkerID) (map[string]bool, error) {
	if s.Err != nil {
		return nil, s.Err
	}
	return s.BadgeSet[id], nil
}

func (s *StaticSignals) TrainingComplete(_ context.Context, id WorkerID, _ string) (bool, error) {
	if s.Err != nil {
		return false, s.Err
	}
	return s.Trained[id], nil
}

func (s *StaticSignals) OnTimeRatio(_ context.Context, id WorkerID, _ int) (float64, bool, error) {
	if s.Err != nil {
		return 0, false, s.Err
	}
	r, ok := s.Ratios[id]
	return r, ok, nil
}
