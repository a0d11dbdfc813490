package pipeline

import (
	"errors"
	"fmt"
	"net/url"
	"os"
)

const localScheme = "file"

var (
	ErrInvalidSource           = errors.New("source_url must be a valid URI with a scheme (file://)")
	ErrRemoteSourceUnsupported = errors.New("remote source unsupported")
	ErrSourceNotFound          = errors.New("source not found")
	ErrSourceIsDirectory       = errors.New("source is a directory")
)

// LocalPath resolves a file:// URI to a filesystem path without touching
// the filesystem.
func LocalPath(sourceURL string) (string, error) {
	u, err := url.Parse(sourceURL)
	if err != nil || u.Scheme == "" {
		return "", ErrInvalidSource
	}
	if u.Scheme != localScheme {
		return "", fmt.Errorf("%w: %s", ErrRemoteSourceUnsupported, u.Scheme)
	}
	if u.Host != "" && u.Host != "localhost" {
		return "", fmt.Errorf("%w: host %s", ErrRemoteSourceUnsupported, u.Host)
	}
	if u.Path == "" {
		return "", ErrInvalidSource
	}
	return u.Path, nil
}

// ValidateLocalSource resolves sourceURL and checks that it names an
// existing regular file.
func ValidateLocalSource(sourceURL string) (string, error) {
	path, err := LocalPath(sourceURL)
	if err != nil {
		return "", err
	}
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", fmt.Errorf("%w: %s", ErrSourceNotFound, path)
		}
		return "", err
	}
	if info.IsDir() {
		return "", fmt.Errorf("%w: %s", ErrSourceIsDirectory, path)
	}
	return path, nil
}
