package storage

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yairfalse/ownerscan/pkg/resource"
)

const (
	missingOwnerQuery = "missing-owner Owner,owner"
	filteredQuery     = "filtered tag:Owner=kguo"
)

func openTestArchive(t *testing.T) (*Archive, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "history", "ownerscan.db")
	a, err := Open(path)
	require.NoError(t, err)
	return a, path
}

func row(id, region string, a resource.Annotation) resource.Row {
	return resource.Row{InstanceID: id, Name: id + "-name", InstanceType: "t3.micro", Region: region, Annotation: a}
}

func report(regions []resource.RegionSummary, rows ...resource.Row) *resource.Report {
	return &resource.Report{
		Mode:      resource.ModeMissingOwner,
		Query:     missingOwnerQuery,
		StartedAt: time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC),
		Duration:  3 * time.Second,
		Regions:   regions,
		Rows:      rows,
	}
}

func TestArchive_RecordRun(t *testing.T) {
	a, _ := openTestArchive(t)
	defer func() { _ = a.Close() }()

	rows := []resource.Row{
		row("i-1", "us-east-1", resource.Annotation{Kind: resource.NoTagsExist}),
		row("i-2", "us-east-1", resource.Annotation{Kind: resource.NoOwnerTag}),
	}
	rev, err := a.RecordRun(report([]resource.RegionSummary{{Region: "us-east-1", Instances: 2}}, rows...))
	require.NoError(t, err)
	assert.Equal(t, int64(1), rev)

	runs, err := a.Runs()
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, int64(1), runs[0].Revision)
	assert.Equal(t, 2, runs[0].Rows)
	assert.Equal(t, resource.ModeMissingOwner, runs[0].Mode)
	assert.Equal(t, missingOwnerQuery, runs[0].Query)

	got, err := a.Rows(1)
	require.NoError(t, err)
	assert.Equal(t, rows, got)

	state, err := a.Instance("i-2")
	require.NoError(t, err)
	assert.Equal(t, int64(1), state.FirstSeenRev)
	assert.Equal(t, int64(1), state.LastSeenRev)
	assert.True(t, state.Present)
	assert.Equal(t, "No Owner tag", state.Annotation.String())
}

func TestArchive_TracksInstancesAcrossRuns(t *testing.T) {
	a, _ := openTestArchive(t)
	defer func() { _ = a.Close() }()

	east := []resource.RegionSummary{{Region: "us-east-1"}}
	_, err := a.RecordRun(report(east,
		row("i-1", "us-east-1", resource.Annotation{Kind: resource.NoTagsExist}),
		row("i-2", "us-east-1", resource.Annotation{Kind: resource.NoOwnerTag}),
	))
	require.NoError(t, err)

	_, err = a.RecordRun(report(east,
		row("i-1", "us-east-1", resource.Annotation{Kind: resource.OwnerTagPresent, Owner: "alice"}),
	))
	require.NoError(t, err)

	i1, err := a.Instance("i-1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), i1.FirstSeenRev)
	assert.Equal(t, int64(2), i1.LastSeenRev)
	assert.Equal(t, "Owner tag is alice", i1.Annotation.String())

	i2, err := a.Instance("i-2")
	require.NoError(t, err)
	assert.False(t, i2.Present)
	assert.Equal(t, int64(2), i2.LeftRev)
}

func TestArchive_DifferentQueryDoesNotRemoveInstances(t *testing.T) {
	a, _ := openTestArchive(t)
	defer func() { _ = a.Close() }()

	east := []resource.RegionSummary{{Region: "us-east-1", Instances: 1}}
	owned := report(east, row("i-5", "us-east-1", resource.Annotation{Kind: resource.OwnerTagPresent, Owner: "kguo"}))
	owned.Mode = resource.ModeFiltered
	owned.Query = filteredQuery
	_, err := a.RecordRun(owned)
	require.NoError(t, err)

	// A missing-owner run never returns owned instances.
	_, err = a.RecordRun(report([]resource.RegionSummary{{Region: "us-east-1"}}))
	require.NoError(t, err)

	state, err := a.Instance("i-5")
	require.NoError(t, err)
	assert.True(t, state.Present)
	assert.Zero(t, state.LeftRev)
	assert.Equal(t, int64(1), state.LastSeenRev)
	assert.Equal(t, filteredQuery, state.Query)

	// The same filtered query scanning cleanly without it does remove it.
	again := report([]resource.RegionSummary{{Region: "us-east-1"}})
	again.Mode = resource.ModeFiltered
	again.Query = filteredQuery
	_, err = a.RecordRun(again)
	require.NoError(t, err)

	state, err = a.Instance("i-5")
	require.NoError(t, err)
	assert.False(t, state.Present)
	assert.Equal(t, int64(3), state.LeftRev)
}

func TestArchive_SeenAgainUnderNewQueryIsPresent(t *testing.T) {
	a, _ := openTestArchive(t)
	defer func() { _ = a.Close() }()

	east := []resource.RegionSummary{{Region: "us-east-1"}}
	_, err := a.RecordRun(report(east, row("i-7", "us-east-1", resource.Annotation{Kind: resource.NoOwnerTag})))
	require.NoError(t, err)
	_, err = a.RecordRun(report(east))
	require.NoError(t, err)

	left, err := a.Instance("i-7")
	require.NoError(t, err)
	require.False(t, left.Present)

	filtered := report(east, row("i-7", "us-east-1", resource.Annotation{Kind: resource.OwnerTagPresent, Owner: "kguo"}))
	filtered.Mode = resource.ModeFiltered
	filtered.Query = filteredQuery
	_, err = a.RecordRun(filtered)
	require.NoError(t, err)

	state, err := a.Instance("i-7")
	require.NoError(t, err)
	assert.True(t, state.Present)
	assert.Zero(t, state.LeftRev)
	assert.Equal(t, filteredQuery, state.Query)
	assert.Equal(t, "Owner tag is kguo", state.Annotation.String())
}

func TestArchive_FailedRegionKeepsInstancesPresent(t *testing.T) {
	a, _ := openTestArchive(t)
	defer func() { _ = a.Close() }()

	_, err := a.RecordRun(report([]resource.RegionSummary{{Region: "eu-central-1"}},
		row("i-9", "eu-central-1", resource.Annotation{Kind: resource.NoTagsExist}),
	))
	require.NoError(t, err)

	_, err = a.RecordRun(report([]resource.RegionSummary{{Region: "eu-central-1", Error: "throttled"}}))
	require.NoError(t, err)

	state, err := a.Instance("i-9")
	require.NoError(t, err)
	assert.True(t, state.Present)
	assert.Equal(t, int64(1), state.LastSeenRev)
}

func TestArchive_ReopenRebuildsIndex(t *testing.T) {
	a, path := openTestArchive(t)

	east := []resource.RegionSummary{{Region: "us-east-1"}}
	_, err := a.RecordRun(report(east, row("i-1", "us-east-1", resource.Annotation{Kind: resource.NoTagsExist})))
	require.NoError(t, err)
	_, err = a.RecordRun(report(east, row("i-2", "us-east-1", resource.Annotation{Kind: resource.NoOwnerTag})))
	require.NoError(t, err)
	require.NoError(t, a.Close())

	reopened, err := Open(path)
	require.NoError(t, err)
	defer func() { _ = reopened.Close() }()

	states := reopened.Instances()
	require.Len(t, states, 2)
	assert.Equal(t, "i-1", states[0].InstanceID)
	assert.False(t, states[0].Present)
	assert.Equal(t, "i-2", states[1].InstanceID)
	assert.True(t, states[1].Present)

	rev, err := reopened.RecordRun(report(east))
	require.NoError(t, err)
	assert.Equal(t, int64(3), rev)
}

func TestArchive_NotFound(t *testing.T) {
	a, _ := openTestArchive(t)
	defer func() { _ = a.Close() }()

	_, err := a.Instance("i-missing")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = a.Rows(7)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestArchive_Compact(t *testing.T) {
	a, _ := openTestArchive(t)
	defer func() { _ = a.Close() }()

	east := []resource.RegionSummary{{Region: "us-east-1"}}
	for i := 0; i < 5; i++ {
		_, err := a.RecordRun(report(east, row("i-1", "us-east-1", resource.Annotation{Kind: resource.NoTagsExist})))
		require.NoError(t, err)
	}

	require.NoError(t, a.Compact(2))

	runs, err := a.Runs()
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, int64(4), runs[0].Revision)
	assert.Equal(t, int64(5), runs[1].Revision)

	_, err = a.Rows(1)
	assert.ErrorIs(t, err, ErrNotFound)

	state, err := a.Instance("i-1")
	require.NoError(t, err)
	assert.Equal(t, int64(4), state.FirstSeenRev)

	rev, err := a.RecordRun(report(east))
	require.NoError(t, err)
	assert.Equal(t, int64(6), rev)
}
