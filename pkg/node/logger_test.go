package node

import (
	"bytes"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
)

func TestNewTaggedMasterLogger(t *testing.T) {
	var buf bytes.Buffer
	ml := NewTaggedMasterLogger("[server]", logrus.InfoLevel)
	ml.Out = &buf

	logger := ml.PackageLogger("node")
	logger.Debug("hidden")
	logger.Info("Peer connected")

	out := buf.String()
	assert.True(t, len(out) > 0 && out[:9] == "[server] ", out)
	assert.Contains(t, out, "Peer connected")
	assert.NotContains(t, out, "hidden")
}
