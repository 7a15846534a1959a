package formatter

import log "github.com/sirupsen/logrus"

// SetTextFormatter sets the text formatter and the caller hook on the logger. Calling it again replaces
// the hooks instead of stacking them.
func SetTextFormatter(logger *log.Logger) {
	logger.SetFormatter(NewTextFormatter())
	logger.SetReportCaller(true)
	logger.ReplaceHooks(make(log.LevelHooks))
	logger.AddHook(NewContextHook())
}
