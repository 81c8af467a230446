package logging

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

func TestNewSetsInfoLevelByDefault(t *testing.T) {
	New(false)
	assert.Equal(t, zerolog.InfoLevel, zerolog.GlobalLevel())
}

func TestNewSetsDebugLevelWhenVerbose(t *testing.T) {
	New(true)
	assert.Equal(t, zerolog.DebugLevel, zerolog.GlobalLevel())
}
