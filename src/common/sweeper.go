package common

import (
	"context"
	"log"

	awslib "resv/src/lib/aws"
)

// QUEUE_RESERVATIONS_TO_EXPIRE receives the one-shot expiry nudges the
// EventBridge scheduler publishes through SNS.
const QUEUE_RESERVATIONS_TO_EXPIRE = "ReservationsToExpire"

// Sweeper is the authoritative expiry mechanism. One-shot schedule nudges
// may fire earlier, but a reservation past its deadline never outlives the
// next sweep.
type Sweeper struct {
	store     ReservationStore
	machine   *ReservationMachine
	BatchSize int
}

func NewSweeper(store ReservationStore, machine *ReservationMachine) *Sweeper {
	return &Sweeper{store: store, machine: machine, BatchSize: 100}
}

// SweepExpired is safe to run concurrently: each reservation is expired
// through a CAS, so overlapping sweeps simply lose the race and move on.
func (s *Sweeper) SweepExpired(ctx context.Context) (int, error) {
	expired, err := s.store.ListExpired(ctx, s.machine.Now(), s.BatchSize)
	if err != nil {
		return 0, err
	}
	swept := 0
	for i := range expired {
		if err := s.machine.Expire(ctx, &expired[i]); err != nil {
			log.Printf("[sweeper] could not expire %s: %s\n", expired[i].ID, err.Error())
			continue
		}
		swept++
	}
	if swept > 0 {
		log.Printf("[sweeper] swept %d expired reservations\n", swept)
	}
	return swept, nil
}

// NudgeHandler is the consumer side of a scheduled expiry nudge. The
// payload only says that some deadline passed, so a full sweep runs.
func (s *Sweeper) NudgeHandler(body string) {
	if _, err := s.SweepExpired(context.Background()); err != nil {
		log.Printf("[expiry-nudge] sweep failed: %s\n", err.Error())
	}
}

// NewExpiryNudgeConsumer drains the nudge queue in hosted environments,
// where the local gocron one-shot job is not available.
func NewExpiryNudgeConsumer(s *Sweeper) *awslib.SQSConsumer {
	return awslib.NewSQSConsumer(QUEUE_RESERVATIONS_TO_EXPIRE, s.NudgeHandler)
}
