package rpc

import (
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
)

var correlationIDPattern = regexp.MustCompile(`^metricq-rpc-go-tok-[0-9a-f]{32}$`)

func TestNewCorrelationIDIsDashlessHex(t *testing.T) {
	id := NewCorrelationID("tok")
	assert.Regexp(t, correlationIDPattern, id)
}

func TestNewCorrelationIDIsUnique(t *testing.T) {
	assert.NotEqual(t, NewCorrelationID("tok"), NewCorrelationID("tok"))
}
