package connect

import (
	"fmt"
	"log"
	"os"
)

// Logging convention in the `connect` package:
// Info:
//     essential events for abnormal behavior. This level should be silent on normal
//     operation, with the exception of one time (infrequent) initialization data
//     this includes:
//     - remote call failures and rollbacks
//     - discarded stale responses are *not* info, they are normal operation
// Error:
//     unrecoverable crash details
// Debug:
//     key events for trace debugging
//     this includes:
//     - mutation begin/settle with entity ids that can be used to filter
//     - debounce emissions and suppressed stale results

const LogLevelUrgent = 0
const LogLevelInfo = 50
const LogLevelDebug = 100

var GlobalLogLevel = LogLevelUrgent

var logger = log.New(os.Stderr, "", log.Ldate|log.Ltime|log.Lshortfile)

func Logger() *log.Logger {
	return logger
}

type LogFunction func(string, ...any)

func LogFn(level int, tag string) LogFunction {
	return func(format string, a ...any) {
		if level <= GlobalLogLevel {
			m := fmt.Sprintf(format, a...)
			Logger().Printf("%s: %s\n", tag, m)
		}
	}
}

func SubLogFn(level int, log LogFunction, tag string) LogFunction {
	return func(format string, a ...any) {
		if level <= GlobalLogLevel {
			m := fmt.Sprintf(format, a...)
			log("%s: %s", tag, m)
		}
	}
}
