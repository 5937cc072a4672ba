package node

import (
	"bytes"
	"os"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/skycoin/skycoin/src/util/logging"
)

// TaggedFormatter prepends a tag to log records.
type TaggedFormatter struct {
	tag []byte
	*logging.TextFormatter
}

// Format executes formatting of TaggedFormatter
func (tf *TaggedFormatter) Format(entry *logrus.Entry) ([]byte, error) {
	data, err := tf.TextFormatter.Format(entry)
	return bytes.Join([][]byte{tf.tag, data}, []byte(" ")), err
}

// NewTaggedMasterLogger creates a MasterLogger whose records start with tag,
// so that several nodes can share one output.
func NewTaggedMasterLogger(tag string, level logrus.Level) *logging.MasterLogger {
	return &logging.MasterLogger{
		Logger: &logrus.Logger{
			Out: os.Stdout,
			Formatter: &TaggedFormatter{
				tag: []byte(tag),
				TextFormatter: &logging.TextFormatter{
					AlwaysQuoteStrings: true,
					QuoteEmptyFields:   true,
					FullTimestamp:      true,
					ForceFormatting:    true,
					TimestampFormat:    time.StampMicro,
				},
			},
			Hooks: make(logrus.LevelHooks),
			Level: level,
		},
	}
}
