package sasquatch

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"
)

var logger = newLogger()

func newLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(os.Stderr)
	l.SetFormatter(&logrus.TextFormatter{
		DisableTimestamp:       true,
		DisableLevelTruncation: true,
	})
	l.SetLevel(logrus.InfoLevel)
	return l
}

// SetLogOutput redirects log output.
func SetLogOutput(w io.Writer) {
	logger.SetOutput(w)
}

// SetVerbosity selects debug output (verbose), warnings only (quiet) or
// the default informational level.
func SetVerbosity(verbose, quiet bool) {
	switch {
	case quiet:
		logger.SetLevel(logrus.WarnLevel)
	case verbose:
		logger.SetLevel(logrus.DebugLevel)
		logger.SetReportCaller(true)
	default:
		logger.SetLevel(logrus.InfoLevel)
		logger.SetReportCaller(false)
	}
}

func doLog(verbose bool, format string, args ...interface{}) {
	if verbose {
		logger.Debugf(format, args...)
	} else {
		logger.Infof(format, args...)
	}
}

func doWarn(path string, err error) {
	logger.WithField("path", path).Warn(err)
}

func removeExtension(filename string) string {
	extension := filepath.Ext(filename)
	return filename[:len(filename)-len(extension)]
}

// DefaultDestination is "<image name without extension>-root" in the
// working directory. Listings use it as their root too.
func DefaultDestination(imagePath string) string {
	return removeExtension(filepath.Base(imagePath)) + defaultRootSuffix
}

// safeJoin joins base and target, ensuring the result stays within base.
func safeJoin(base, target string) (string, error) {
	cleanBase := filepath.Clean(base)
	cleanTarget := filepath.Clean(filepath.FromSlash(target))

	if filepath.IsAbs(cleanTarget) || filepath.VolumeName(cleanTarget) != "" {
		cleanTarget = strings.TrimPrefix(cleanTarget, filepath.VolumeName(cleanTarget))
		cleanTarget = strings.TrimLeft(cleanTarget, string(os.PathSeparator))
	}

	joined := filepath.Clean(filepath.Join(cleanBase, cleanTarget))

	prefix := cleanBase + string(os.PathSeparator)
	if cleanBase == string(os.PathSeparator) {
		prefix = cleanBase
	}
	if joined != cleanBase && !strings.HasPrefix(joined, prefix) {
		return "", fmt.Errorf("illegal path: %s", target)
	}

	return joined, nil
}

// inScope reports whether p is one of the wanted paths, lies below one, or
// is a parent that must exist for one. An empty list matches everything.
func inScope(p string, wanted []string) (match, parent bool) {
	if len(wanted) == 0 {
		return true, false
	}
	for _, w := range wanted {
		w = strings.Trim(filepath.ToSlash(filepath.Clean(w)), "/")
		if w == "" || w == "." || p == w || strings.HasPrefix(p, w+"/") {
			return true, false
		}
		if p == "" || strings.HasPrefix(w, p+"/") {
			parent = true
		}
	}
	return false, parent
}
