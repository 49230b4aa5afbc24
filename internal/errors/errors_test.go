package errors

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildDefaults(t *testing.T) {
	t.Parallel()

	ee := New(fmt.Errorf("test error")).Build()

	assert.Equal(t, "test error", ee.GetMessage())
	assert.Equal(t, ComponentUnknown, ee.GetComponent())
	assert.Equal(t, CategoryGeneric, ee.Category)
	assert.False(t, ee.GetTimestamp().IsZero())
}

func TestBuildInheritsFromWrappedSentinel(t *testing.T) {
	t.Parallel()

	sentinel := Newf("pool exhausted").
		Component("bufferpool").
		Category(CategoryLimit).
		Build()

	wrapped := New(sentinel).
		Context("capacity", 4).
		Build()

	assert.True(t, Is(wrapped, sentinel), "wrapped error must match its sentinel")
	assert.Equal(t, CategoryLimit, wrapped.Category)
	assert.Equal(t, "bufferpool", wrapped.GetComponent())
	assert.True(t, IsCategory(wrapped, CategoryLimit))

	other := Newf("queue closed").Category(CategoryState).Build()
	assert.False(t, Is(wrapped, other))
}

func TestErrorMessageIncludesSortedContext(t *testing.T) {
	t.Parallel()

	ee := Newf("release failed").
		Context("pool", "p1").
		Context("buffer", 3).
		Build()

	assert.Equal(t, "release failed (buffer=3, pool=p1)", ee.Error())
}

func TestErrorMessageWithoutWrappedError(t *testing.T) {
	t.Parallel()

	ee := New(nil).Category(CategoryTimeout).Build()
	assert.Equal(t, "timeout", ee.Error())
}

func TestGetContextReturnsCopy(t *testing.T) {
	t.Parallel()

	ee := Newf("x").Context("k", "v").Build()
	ctx := ee.GetContext()
	require.NotNil(t, ctx)
	ctx["k"] = "changed"

	assert.Equal(t, "v", ee.GetContext()["k"])
}

func TestPriorityFallsBackToMedium(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		priority string
		want     string
	}{
		{"critical", PriorityCritical, PriorityCritical},
		{"empty", "", ""},
		{"invalid", "urgent", PriorityMedium},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			ee := Newf("x").Priority(tt.priority).Build()
			assert.Equal(t, tt.want, ee.GetPriority())
		})
	}
}

func TestReportedFlag(t *testing.T) {
	t.Parallel()

	ee := Newf("x").Build()
	assert.False(t, ee.IsReported())
	ee.MarkReported()
	assert.True(t, ee.IsReported())
}

type limitError struct{}

func (limitError) Error() string                { return "too many" }
func (limitError) ErrorCategory() ErrorCategory { return CategoryLimit }

func TestBuildTakesCategoryFromCategorizedError(t *testing.T) {
	t.Parallel()

	ee := New(fmt.Errorf("wrapped: %w", limitError{})).Build()
	assert.Equal(t, CategoryLimit, ee.Category)
	assert.Equal(t, ComponentUnknown, ee.GetComponent())

	joined := Join(ee, Newf("other").Build())
	assert.True(t, IsCategory(joined, CategoryLimit))
}
