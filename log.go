package stream

import (
	"fmt"

	"github.com/golang/glog"
)

// Logging convention in the `stream` package:
// Info:
//     essential events for abnormal behavior. This level should be silent on
//     normal operation, with the exception of one time (infrequent)
//     initialization data that is useful for monitoring
//     this includes:
//     - dropped malformed items
//     - abnormal stream and socket exits
// V(1):
//     lifecycle events - connect, disconnect, stream end
// V(2):
//     frequent per-message trace events

const LogLevelInfo = 1
const LogLevelDebug = 2

type LogFunction func(string, ...any)

func LogFn(level int32, tag string) LogFunction {
	return func(format string, a ...any) {
		if glog.V(glog.Level(level)) {
			m := fmt.Sprintf(format, a...)
			glog.InfoDepth(1, fmt.Sprintf("%s: %s", tag, m))
		}
	}
}

func SubLogFn(level int32, log LogFunction, tag string) LogFunction {
	return func(format string, a ...any) {
		if glog.V(glog.Level(level)) {
			m := fmt.Sprintf(format, a...)
			log("%s: %s", tag, m)
		}
	}
}
