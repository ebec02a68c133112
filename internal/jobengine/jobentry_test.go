package jobengine

import (
	"testing"

	"github.com/klyuchko/unitjob/pkg/unit"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewJobEntrySeedsFirstPhase(t *testing.T) {
	j := NewJobEntry(1, "nginx.service", unit.JobRestart, unit.ModeReplace)
	assert.Equal(t, unit.JobRestart, j.Kind)
	assert.Equal(t, unit.JobStop, j.RunKind)
	assert.Equal(t, unit.StageInit, j.Stage)
}

func TestNewJobEntryBasicKindRunKindMatchesKind(t *testing.T) {
	j := NewJobEntry(1, "nginx.service", unit.JobStart, unit.ModeReplace)
	assert.Equal(t, unit.JobStart, j.RunKind)
}

func TestWaitOnlyAdvancesFromInit(t *testing.T) {
	j := NewJobEntry(1, "nginx.service", unit.JobStart, unit.ModeReplace)
	j.Wait()
	assert.Equal(t, unit.StageWait, j.Stage)
	j.Stage = unit.StageRunning
	j.Wait()
	assert.Equal(t, unit.StageRunning, j.Stage, "Wait must not regress a running job")
}

func TestRunRequiresWaitStage(t *testing.T) {
	j := NewJobEntry(1, "nginx.service", unit.JobStart, unit.ModeReplace)
	require.False(t, j.Run(), "Run on an Init job must be a no-op")
	j.Wait()
	require.True(t, j.Run())
	assert.Equal(t, unit.StageRunning, j.Stage)
}

func TestFinishNonDoneEndsTheJob(t *testing.T) {
	j := NewJobEntry(1, "nginx.service", unit.JobRestart, unit.ModeReplace)
	j.Wait()
	j.Run()
	more := j.Finish(unit.ResultInvalid)
	assert.False(t, more)
	assert.True(t, j.Done())
	assert.Equal(t, unit.ResultInvalid, j.Result)
}

func TestFinishRestartAdvancesStopToStart(t *testing.T) {
	j := NewJobEntry(1, "nginx.service", unit.JobRestart, unit.ModeReplace)
	j.Wait()
	j.Run()

	more := j.Finish(unit.ResultDone)
	require.True(t, more, "Stop phase of a Restart must request a second phase")
	assert.Equal(t, unit.StageWait, j.Stage)
	assert.Equal(t, unit.JobStart, j.RunKind)

	j.Run()
	more = j.Finish(unit.ResultDone)
	assert.False(t, more)
	assert.True(t, j.Done())
}

func TestFinishBasicKindEndsAfterOnePhase(t *testing.T) {
	j := NewJobEntry(1, "nginx.service", unit.JobStart, unit.ModeReplace)
	j.Wait()
	j.Run()
	more := j.Finish(unit.ResultDone)
	assert.False(t, more)
	assert.True(t, j.Done())
}

func TestMergeAttrWidensNeverNarrows(t *testing.T) {
	j := NewJobEntry(1, "nginx.service", unit.JobStart, unit.ModeReplace)
	j.Attr.Force = true
	j.MergeAttr(unit.JobAttr{IgnoreOrder: true})
	assert.True(t, j.Attr.Force, "merging must not drop a flag already set")
	assert.True(t, j.Attr.IgnoreOrder)
}

func TestSameID(t *testing.T) {
	a := NewJobEntry(1, "nginx.service", unit.JobStart, unit.ModeReplace)
	b := NewJobEntry(1, "db.service", unit.JobStop, unit.ModeReplace)
	c := NewJobEntry(2, "nginx.service", unit.JobStart, unit.ModeReplace)
	assert.True(t, a.SameID(b))
	assert.False(t, a.SameID(c))
	assert.False(t, a.SameID(nil))
}
