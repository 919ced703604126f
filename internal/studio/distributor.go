package studio

import (
	"tracklab/internal/composition"
)

// Distributor fans a loaded snapshot out to the four partitions in a fixed
// order: sequencer first, because mixer channels, effect chains, and sample
// assignments all reference track ids minted by the sequencer's load step.
//
// Distribution is all-or-nothing: every partition stages its slice first,
// and the staged state is committed only after all four stages succeed. A
// failure in any stage leaves every partition exactly as it was.
type Distributor struct {
	seq *Sequencer
	mix *Mixer
	fx  *Effects
	smp *Samples
}

// NewDistributor returns a Distributor over the given partitions.
func NewDistributor(seq *Sequencer, mix *Mixer, fx *Effects, smp *Samples) *Distributor {
	return &Distributor{seq: seq, mix: mix, fx: fx, smp: smp}
}

// Distribute stages and commits a full snapshot. On failure it returns a
// *LoadError naming the partition whose stage was rejected.
func (d *Distributor) Distribute(snap composition.Snapshot) error {
	commits := make([]func(), 0, 4)

	commit, err := d.seq.stageLoad(snap.Sequence)
	if err != nil {
		return &LoadError{Partition: "sequencer", Err: err}
	}
	commits = append(commits, commit)

	trackIDs := trackIDSet(snap.Sequence)

	commit, err = d.mix.stageLoad(snap.Mixer, trackIDs)
	if err != nil {
		return &LoadError{Partition: "mixer", Err: err}
	}
	commits = append(commits, commit)

	commit, err = d.fx.stageLoad(snap.EffectChains, trackIDs)
	if err != nil {
		return &LoadError{Partition: "effects", Err: err}
	}
	commits = append(commits, commit)

	commit, err = d.smp.stageLoad(snap.SampleAssignments, trackIDs)
	if err != nil {
		return &LoadError{Partition: "samples", Err: err}
	}
	commits = append(commits, commit)

	for _, commit := range commits {
		commit()
	}
	return nil
}

// DistributeSequence commits only the sequencer slice. Used when a freshly
// created composition hands back its empty sequence.
func (d *Distributor) DistributeSequence(doc composition.SequenceDoc) error {
	commit, err := d.seq.stageLoad(doc)
	if err != nil {
		return &LoadError{Partition: "sequencer", Err: err}
	}
	commit()
	return nil
}
