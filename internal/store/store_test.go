package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLite(filepath.Join(t.TempDir(), "nested", "progress.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	require.NoError(t, s.EnsureSchema(context.Background()))
	return s
}

func TestEnsureSchemaIdempotent(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.EnsureSchema(context.Background()))
}

func TestRecordEventFoldsProgress(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	base := Event{SessionID: "rts_1", UserID: "7", CourseID: "12", UnitID: "102", SCOID: "a"}

	ev := base
	ev.Type, ev.Element, ev.Value = "scorm_set_value", "cmi.core.score.raw", "85"
	ev.Score, ev.HasScore = 85, true
	require.NoError(t, s.RecordEvent(ctx, ev))

	ev = base
	ev.Type, ev.Element, ev.Value = "scorm_set_value", "cmi.core.lesson_status", "completed"
	ev.Score, ev.HasScore, ev.LessonStatus = 85, true, "completed"
	require.NoError(t, s.RecordEvent(ctx, ev))

	ev = base
	ev.Type = "scorm_commit"
	require.NoError(t, s.RecordEvent(ctx, ev))

	ev = base
	ev.Type, ev.Finished = "scorm_finish", true
	require.NoError(t, s.RecordEvent(ctx, ev))

	units, err := s.CourseProgress(ctx, "7", "12")
	require.NoError(t, err)
	require.Len(t, units, 1)
	got := units[0]
	assert.Equal(t, "102", got.UnitID)
	assert.Equal(t, "a", got.SCOID)
	require.NotNil(t, got.Score)
	assert.Equal(t, 85, *got.Score)
	assert.Equal(t, "completed", got.LessonStatus)
	assert.True(t, got.Finished)
	assert.Equal(t, 1, got.Commits)
	assert.False(t, got.UpdatedAt.IsZero())
}

func TestLaterSessionKeepsEarlierValues(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.RecordEvent(ctx, Event{
		SessionID: "rts_1", UserID: "guest", CourseID: "1", UnitID: "5", SCOID: "x",
		Type: "scorm_set_value", Element: "cmi.core.score.raw", Value: "40", Score: 40, HasScore: true,
	}))
	require.NoError(t, s.RecordEvent(ctx, Event{
		SessionID: "rts_2", UserID: "guest", CourseID: "1", UnitID: "5", SCOID: "x",
		Type: "scorm_set_value", Element: "cmi.core.session_time", Value: "00:01:00", SessionTime: "00:01:00",
	}))

	units, err := s.CourseProgress(ctx, "guest", "1")
	require.NoError(t, err)
	require.Len(t, units, 1)
	require.NotNil(t, units[0].Score)
	assert.Equal(t, 40, *units[0].Score)
	assert.Equal(t, "00:01:00", units[0].SessionTime)
	assert.False(t, units[0].Finished)
}

func TestCourseProgressScopedByUserAndCourse(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for _, ev := range []Event{
		{SessionID: "a", UserID: "1", CourseID: "c1", UnitID: "u2", SCOID: "s", Type: "scorm_commit"},
		{SessionID: "b", UserID: "1", CourseID: "c1", UnitID: "u1", SCOID: "s", Type: "scorm_commit"},
		{SessionID: "c", UserID: "2", CourseID: "c1", UnitID: "u1", SCOID: "s", Type: "scorm_commit"},
		{SessionID: "d", UserID: "1", CourseID: "c2", UnitID: "u1", SCOID: "s", Type: "scorm_commit"},
	} {
		require.NoError(t, s.RecordEvent(ctx, ev))
	}

	units, err := s.CourseProgress(ctx, "1", "c1")
	require.NoError(t, err)
	require.Len(t, units, 2)
	assert.Equal(t, "u1", units[0].UnitID)
	assert.Equal(t, "u2", units[1].UnitID)
	assert.Nil(t, units[0].Score)

	none, err := s.CourseProgress(ctx, "3", "c1")
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestSessionEventsInOrder(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	types := []string{"scorm_set_value", "scorm_commit", "scorm_finish"}
	for _, typ := range types {
		require.NoError(t, s.RecordEvent(ctx, Event{
			SessionID: "rts_x", UserID: "1", CourseID: "c", UnitID: "u", SCOID: "s", Type: typ, At: at,
		}))
	}
	require.NoError(t, s.RecordEvent(ctx, Event{SessionID: "rts_y", UserID: "1", CourseID: "c", UnitID: "u", SCOID: "s", Type: "scorm_commit"}))

	events, err := s.SessionEvents(ctx, "rts_x")
	require.NoError(t, err)
	require.Len(t, events, 3)
	for i, ev := range events {
		assert.Equal(t, types[i], ev.Type)
		assert.True(t, at.Equal(ev.At))
	}
}

func TestRecordEventIgnoresUntyped(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.RecordEvent(context.Background(), Event{SessionID: "z"}))

	events, err := s.SessionEvents(context.Background(), "z")
	require.NoError(t, err)
	assert.Empty(t, events)
}
