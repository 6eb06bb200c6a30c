package store

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yairfalse/vahti/pkg/finding"
)

type fakeClock struct {
	t time.Time
}

func (c *fakeClock) now() time.Time {
	c.t = c.t.Add(time.Minute)
	return c.t
}

func newTestStore(t *testing.T, dir string) *Store {
	t.Helper()
	clock := &fakeClock{t: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	s, err := Open(dir, WithClock(clock.now))
	require.NoError(t, err)
	return s
}

func testReport(checkIDs ...string) finding.Report {
	r := finding.Report{Tool: "prowler", Provider: finding.ProviderAWS, FrameworkSelection: []string{}}
	for _, id := range checkIDs {
		r.Findings = append(r.Findings, finding.Finding{CheckID: id, Provider: finding.ProviderAWS})
	}
	return r
}

func TestStore_PutGet(t *testing.T) {
	s := newTestStore(t, t.TempDir())
	defer func() { _ = s.Close() }()

	rec, err := s.Put(testReport("a", "b"))
	require.NoError(t, err)
	assert.NotEmpty(t, rec.ID)
	assert.Equal(t, time.Date(2024, 1, 1, 0, 1, 0, 0, time.UTC), rec.CreatedAt)

	got, err := s.Get(rec.ID)
	require.NoError(t, err)
	assert.Equal(t, rec.ID, got.ID)
	assert.True(t, rec.CreatedAt.Equal(got.CreatedAt))
	assert.Equal(t, rec.Report, got.Report)
}

func TestStore_GetMissing(t *testing.T) {
	s := newTestStore(t, t.TempDir())
	defer func() { _ = s.Close() }()

	_, err := s.Get("nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStore_ListNewestFirst(t *testing.T) {
	s := newTestStore(t, t.TempDir())
	defer func() { _ = s.Close() }()

	first, err := s.Put(testReport("a"))
	require.NoError(t, err)
	second, err := s.Put(testReport("b"))
	require.NoError(t, err)
	third, err := s.Put(testReport("c"))
	require.NoError(t, err)

	all, err := s.List(0)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, []string{third.ID, second.ID, first.ID}, []string{all[0].ID, all[1].ID, all[2].ID})

	limited, err := s.List(2)
	require.NoError(t, err)
	require.Len(t, limited, 2)
	assert.Equal(t, third.ID, limited[0].ID)
}

func TestStore_Delete(t *testing.T) {
	s := newTestStore(t, t.TempDir())
	defer func() { _ = s.Close() }()

	rec, err := s.Put(testReport("a"))
	require.NoError(t, err)

	require.NoError(t, s.Delete(rec.ID))
	assert.Equal(t, 0, s.Len())

	_, err = s.Get(rec.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, s.Delete(rec.ID), ErrNotFound)
}

func TestStore_IndexRebuiltOnOpen(t *testing.T) {
	dir := t.TempDir()

	s := newTestStore(t, dir)
	older, err := s.Put(testReport("a"))
	require.NoError(t, err)
	newer, err := s.Put(testReport("b"))
	require.NoError(t, err)
	require.NoError(t, s.Close())

	reopened := newTestStore(t, dir)
	defer func() { _ = reopened.Close() }()

	assert.Equal(t, 2, reopened.Len())
	list, err := reopened.List(0)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, newer.ID, list[0].ID)
	assert.Equal(t, older.ID, list[1].ID)
}
