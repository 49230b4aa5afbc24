package buildinfo

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestContextValues(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		ctx       *Context
		version   string
		buildDate string
	}{
		{"nil context", nil, UnknownValue, UnknownValue},
		{"empty values", NewContext("", ""), UnknownValue, UnknownValue},
		{"release", NewContext("v1.0.0", "2026-01-02"), "v1.0.0", "2026-01-02"},
		{"pre-release", NewContext("v1.0.0-beta.1", ""), "v1.0.0-beta.1", UnknownValue},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.version, tt.ctx.Version())
			assert.Equal(t, tt.buildDate, tt.ctx.BuildDate())
		})
	}
}

func TestContextString(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "rtcore v2.1.0 (built 2026-03-04)", NewContext("v2.1.0", "2026-03-04").String())
	assert.Equal(t, "rtcore unknown (built unknown)", Current().String())
}
