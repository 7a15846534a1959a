package formatter

import (
	"fmt"
	"sort"
	"strings"

	"github.com/sirupsen/logrus"
)

var levelDesc = []string{"PANC", "FATL", "ERRO", "WARN", "INFO", "DEBG", "TRAC"}

// TextFormatter formats logs into one text line with the fields in a stable order and the source
// code's path of the caller
type TextFormatter struct {
	timestampFormat string
}

// NewTextFormatter create new TextFormatter instance
func NewTextFormatter() *TextFormatter {
	return &TextFormatter{
		timestampFormat: "2006-01-02T15:04:05.000Z07:00",
	}
}

// Format renders a single log entry
func (f *TextFormatter) Format(entry *logrus.Entry) ([]byte, error) {
	keys := make([]string, 0, len(entry.Data))
	for k := range entry.Data {
		if k == "source" {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var fields string
	if len(keys) > 0 {
		pairs := make([]string, 0, len(keys))
		for _, k := range keys {
			pairs = append(pairs, fmt.Sprintf("%s: %v", k, entry.Data[k]))
		}
		fields = fmt.Sprintf("[%s] ", strings.Join(pairs, ", "))
	}

	var source string
	if src, ok := entry.Data["source"]; ok {
		source = fmt.Sprintf("%v: ", src)
	}

	return []byte(fmt.Sprintf("%s %s %s%s%s\n", entry.Time.Format(f.timestampFormat), parseLevel(entry.Level), fields, source, entry.Message)), nil
}

func parseLevel(level logrus.Level) string {
	if int(level) >= len(levelDesc) {
		return ""
	}
	return levelDesc[level]
}
