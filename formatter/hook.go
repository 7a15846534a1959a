package formatter

import (
	"path"
	"runtime/debug"
	"strconv"
	"strings"

	log "github.com/sirupsen/logrus"
)

// directory name of a local checkout, used when the binary has no module information
const checkoutDir = "notifier/"

// ContextHook adds the caller as "source" field, relative to the module root
type ContextHook struct {
	prefixes []string
}

func NewContextHook() *ContextHook {
	prefixes := []string{checkoutDir}
	if info, ok := debug.ReadBuildInfo(); ok && info.Main.Path != "" {
		prefixes = append([]string{info.Main.Path + "/"}, prefixes...)
	}
	return &ContextHook{prefixes: prefixes}
}

func (hook *ContextHook) Levels() []log.Level {
	return log.AllLevels
}

func (hook *ContextHook) Fire(entry *log.Entry) error {
	if entry.Caller == nil {
		return nil
	}
	entry.Data["source"] = hook.parseSrc(entry.Caller.File) + ":" + strconv.Itoa(entry.Caller.Line)
	return nil
}

func (hook *ContextHook) parseSrc(filePath string) string {
	for _, prefix := range hook.prefixes {
		if i := strings.LastIndex(filePath, prefix); i >= 0 {
			return filePath[i+len(prefix):]
		}
	}

	// external package, keep its directory
	return path.Base(path.Dir(filePath)) + "/" + path.Base(filePath)
}
