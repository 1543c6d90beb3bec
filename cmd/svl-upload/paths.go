package main

import (
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/bitrise-io/go-utils/v2/pathutil"
	"github.com/bmatcuk/doublestar/v4"
)

// expandPaths resolves the command line arguments into the list of files to upload.
// Arguments can contain "doublestar" patterns (such as `cases/**/*.mp4`).
// Duplicates and directories are dropped; the order of the arguments is kept.
func expandPaths(args []string, pathModifier pathutil.PathModifier, logger log.Logger) []string {
	var files []string
	seen := map[string]bool{}

	for _, arg := range args {
		for _, path := range evaluateGlobPattern(arg, pathModifier, logger) {
			if seen[path] {
				continue
			}
			seen[path] = true
			files = append(files, path)
		}
	}

	return filterFilesOnly(files, logger)
}

func evaluateGlobPattern(arg string, pathModifier pathutil.PathModifier, logger log.Logger) []string {
	absPath, err := pathModifier.AbsPath(arg)
	if err != nil {
		logger.Warnf("Invalid path %s: %s", arg, err)
		return nil
	}
	if !strings.ContainsAny(arg, "*?[{") {
		return []string{absPath}
	}

	base, pattern := splitPattern(filepath.ToSlash(absPath))
	matches, err := doublestar.Glob(os.DirFS(base), pattern)
	if err != nil {
		logger.Warnf("Error in pattern '%s': %s", arg, err)
		return nil
	}
	if matches == nil {
		logger.Warnf("No match for pattern: %s", arg)
		return nil
	}

	sort.Strings(matches)
	paths := make([]string, 0, len(matches))
	for _, match := range matches {
		paths = append(paths, filepath.Join(filepath.FromSlash(base), filepath.FromSlash(match)))
	}
	return paths
}

// splitPattern splits an absolute, slash separated pattern into the directory
// before its first meta character and the rest.
func splitPattern(p string) (string, string) {
	meta := strings.IndexAny(p, "*?[{")
	if meta < 0 {
		return filepath.Dir(p), filepath.Base(p)
	}
	sep := strings.LastIndex(p[:meta], "/")
	if sep <= 0 {
		return "/", p[sep+1:]
	}
	return p[:sep], p[sep+1:]
}

func filterFilesOnly(paths []string, logger log.Logger) []string {
	var files []string
	for _, path := range paths {
		info, err := os.Stat(path)
		if err != nil {
			logger.Warnf("Skipping %s: %s", path, err)
			continue
		}
		if info.IsDir() {
			logger.Debugf("Skipping directory %s", path)
			continue
		}
		files = append(files, path)
	}
	return files
}
