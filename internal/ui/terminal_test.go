package ui

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestShouldUseColor(t *testing.T) {
	tests := []struct {
		name          string
		noColor       string
		cliColor      string
		cliColorForce string
		want          bool
	}{
		{name: "NO_COLOR disables color", noColor: "1", want: false},
		{name: "CLICOLOR=0 disables color", cliColor: "0", want: false},
		{name: "CLICOLOR_FORCE enables color without a tty", cliColorForce: "1", want: true},
		{name: "NO_COLOR wins over CLICOLOR_FORCE", noColor: "1", cliColorForce: "1", want: false},
		{name: "CLICOLOR_FORCE=0 is ignored", cliColorForce: "0", want: IsTerminal()},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("NO_COLOR", "")
			os.Unsetenv("NO_COLOR")
			t.Setenv("CLICOLOR", tt.cliColor)
			t.Setenv("CLICOLOR_FORCE", tt.cliColorForce)
			if tt.noColor != "" {
				t.Setenv("NO_COLOR", tt.noColor)
			}
			assert.Equal(t, tt.want, ShouldUseColor())
		})
	}
}

func TestShouldUseColorEmptyNoColor(t *testing.T) {
	// Presence disables color regardless of value.
	t.Setenv("NO_COLOR", "")
	t.Setenv("CLICOLOR_FORCE", "1")
	assert.False(t, ShouldUseColor())
}

func TestApplyColorProfileStripsWithoutColor(t *testing.T) {
	t.Setenv("NO_COLOR", "1")
	ApplyColorProfile()
	assert.Equal(t, "admin", RenderRole("admin"))
	assert.Equal(t, IconPass+" ok", RenderStatus(true, "ok"))
	assert.Equal(t, "ROLES", RenderHeader("roles"))
}
