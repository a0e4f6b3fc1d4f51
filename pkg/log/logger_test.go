package log

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWithFieldsPrefixesMessage(t *testing.T) {
	var buf bytes.Buffer
	SetOutput(&buf)
	defer SetOutput(discard{})

	WithFields(Fields{"connector": "injected", "chain": 1}).Infof("activated %s", "0xabc")
	assert.Contains(t, buf.String(), "chain=1 connector=injected activated 0xabc")
	assert.Contains(t, buf.String(), "[INFO]")
}

func TestSetLevelFiltersDebug(t *testing.T) {
	var buf bytes.Buffer
	SetOutput(&buf)
	defer SetOutput(discard{})
	SetLevel(2)
	defer SetLevel(1)

	Debugf("hidden %d", 1)
	Infof("hidden %d", 2)
	Warnf("shown %d", 3)
	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), "shown 3")
}

type discard struct{}

func (discard) Write(p []byte) (int, error) { return len(p), nil }
