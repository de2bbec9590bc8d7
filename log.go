package vesper

import (
	"fmt"

	"github.com/tliron/commonlog"

	_ "github.com/tliron/commonlog/simple"
)

// logInfo/logWarning/logError wrap commonlog's fire-and-log message
// constructors, used for link errors during Engine.Eval and for late
// initializers whose failure the VM recovers from.
//
// A depth argument followed by a formatted message, logged immediately
// rather than built up through a separate Logger handle.
func logInfo(format string, args ...interface{}) {
	commonlog.NewInfoMessage(0, fmt.Sprintf(format, args...))
}

func logWarning(format string, args ...interface{}) {
	commonlog.NewWarningMessage(0, fmt.Sprintf(format, args...))
}

func logError(format string, args ...interface{}) {
	commonlog.NewErrorMessage(0, fmt.Sprintf(format, args...))
}
