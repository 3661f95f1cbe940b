package command

import (
	"encoding/binary"
	"hash/fnv"

	"github.com/signalsfoundry/mission-engine/model"
)

// Stage is the phase an Outcome is asked about.
type Stage string

const (
	StageUplink    Stage = "uplink"
	StageExecution Stage = "execution"
)

// Decision is the result of an Outcome check.
type Decision struct {
	OK     bool
	Reason string
}

// Outcome decides whether a command survives each stage.
type Outcome interface {
	Decide(cmd model.QueuedCommand, stage Stage) Decision
}

// OutcomeFunc adapts a function to Outcome.
type OutcomeFunc func(cmd model.QueuedCommand, stage Stage) Decision

// Decide implements Outcome.
func (f OutcomeFunc) Decide(cmd model.QueuedCommand, stage Stage) Decision { return f(cmd, stage) }

// AlwaysSucceed lets every command through.
type AlwaysSucceed struct{}

// Decide implements Outcome.
func (AlwaysSucceed) Decide(model.QueuedCommand, Stage) Decision { return Decision{OK: true} }

// FailureRates injects failures with fixed per-stage probabilities for
// training drills. The draw is a hash of the seed, command id and stage so
// a replayed session fails the same commands.
type FailureRates struct {
	Uplink    float64
	Execution float64
	Seed      uint64
}

// Decide implements Outcome.
func (r FailureRates) Decide(cmd model.QueuedCommand, stage Stage) Decision {
	rate, reason := r.Uplink, "uplink lost: no acknowledgement from spacecraft"
	if stage == StageExecution {
		rate, reason = r.Execution, "execution fault reported by spacecraft"
	}
	if rate <= 0 {
		return Decision{OK: true}
	}
	if draw(r.Seed, cmd.ID, stage) < rate {
		return Decision{OK: false, Reason: reason}
	}
	return Decision{OK: true}
}

func draw(seed uint64, id string, stage Stage) float64 {
	h := fnv.New64a()
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], seed)
	h.Write(b[:])
	h.Write([]byte(id))
	h.Write([]byte(stage))
	return float64(h.Sum64()>>11) / (1 << 53)
}
