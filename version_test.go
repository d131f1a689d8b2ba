package gudasum

import (
	"runtime/debug"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestModuleVersion(t *testing.T) {
	bin := &debug.BuildInfo{Main: debug.Module{Path: modulePath, Version: "(devel)"}}
	assert.Equal(t, "(devel)", moduleVersion(bin))

	dep := &debug.BuildInfo{
		Main: debug.Module{Path: "example.com/tool"},
		Deps: []*debug.Module{
			{Path: "gonum.org/v1/gonum", Version: "v0.15.1"},
			{Path: modulePath, Version: "v0.2.0"},
		},
	}
	assert.Equal(t, "v0.2.0", moduleVersion(dep))

	assert.Empty(t, moduleVersion(&debug.BuildInfo{Main: debug.Module{Path: "example.com/tool"}}))
}
