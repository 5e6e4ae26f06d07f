package version

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCurrent(t *testing.T) {
	assert.True(t, strings.HasPrefix(Current(), "v"))

	old := buildVersion
	buildVersion = "v1.2.3"
	defer func() { buildVersion = old }()
	assert.Equal(t, "v1.2.3", Current())
}

func TestModule(t *testing.T) {
	assert.NotEmpty(t, Module())
}
