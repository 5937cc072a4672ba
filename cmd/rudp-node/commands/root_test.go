package commands

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skycoin/rudp/pkg/node"
)

func TestStartLogger_Tag(t *testing.T) {
	rc := &runCfg{syslogAddr: "none", tag: "edge"}
	require.Equal(t, rc, rc.startLogger())

	_, ok := rc.masterLogger.Formatter.(*node.TaggedFormatter)
	require.True(t, ok)

	var buf bytes.Buffer
	rc.masterLogger.Out = &buf
	rc.logger.Info("Node started")
	assert.True(t, strings.HasPrefix(buf.String(), "[edge] "), buf.String())
}
