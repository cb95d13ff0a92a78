// Package source resolves a capture location to a local file the image
// package can map.
package source

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
)

var ErrCaptureNotExist = errors.New("capture does not exist")

type Scheme string

const (
	SchemeLocal Scheme = ""
	SchemeGCS   Scheme = "gs"
	SchemeS3    Scheme = "s3"
	SchemeHTTPS Scheme = "https"
)

// Location is a parsed capture URI. For https captures Bucket holds the host.
type Location struct {
	Scheme Scheme
	Bucket string
	Path   string
}

func (l Location) IsRemote() bool {
	return l.Scheme != SchemeLocal
}

func (l Location) String() string {
	if !l.IsRemote() {
		return l.Path
	}

	return string(l.Scheme) + "://" + l.Bucket + "/" + l.Path
}

func Parse(uri string) (Location, error) {
	if uri == "" {
		return Location{}, errors.New("empty capture location")
	}

	scheme, rest, ok := strings.Cut(uri, "://")
	if !ok {
		return Location{Path: uri}, nil
	}

	switch s := Scheme(scheme); s {
	case SchemeGCS, SchemeS3, SchemeHTTPS:
		bucket, object, ok := strings.Cut(rest, "/")
		if !ok || bucket == "" || object == "" {
			return Location{}, fmt.Errorf("capture location %q must be %s://bucket/object", uri, s)
		}

		return Location{Scheme: s, Bucket: bucket, Path: object}, nil
	default:
		return Location{}, fmt.Errorf("capture location %q: unsupported scheme %q", uri, scheme)
	}
}

// Fetch returns a local path holding the capture at uri, downloading it into
// downloadDir when it is remote.
func Fetch(ctx context.Context, uri, downloadDir string) (string, error) {
	loc, err := Parse(uri)
	if err != nil {
		return "", err
	}

	switch loc.Scheme {
	case SchemeGCS:
		gcs, err := NewGCS(ctx, downloadDir)
		if err != nil {
			return "", err
		}
		defer gcs.Close()

		return gcs.Fetch(ctx, loc)
	case SchemeS3:
		s3, err := NewS3(ctx, downloadDir)
		if err != nil {
			return "", err
		}

		return s3.Fetch(ctx, loc)
	case SchemeHTTPS:
		return NewHTTP(downloadDir).Fetch(ctx, loc)
	default:
		return local(loc.Path)
	}
}

func local(path string) (string, error) {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", fmt.Errorf("%s: %w", path, ErrCaptureNotExist)
		}

		return "", err
	}

	if info.IsDir() {
		return "", fmt.Errorf("path %s is a directory", path)
	}

	return path, nil
}
