// Package folder resolves the deterministic path layout shared by the local
// mirror and every remote storage provider:
//
//	[KiraWorkspaces/<ws>/]Receipts/<Country>/<YYYY>/<YYYY-MM>/<YYYY-MM-DD>/
package folder

import (
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"
)

// Country is the closed enumeration of supported receipt-country folders.
type Country string

// Supported country folders.
const (
	Canada        Country = "Canada"
	UnitedStates  Country = "United_States"
	quarantineDir         = "_Quarantine"
)

// ErrInvalidCountry is returned for any Country value outside the
// enumerated set.
var ErrInvalidCountry = errors.New("folder: invalid country")

// ErrInvalidDate is returned when date does not match YYYY-MM-DD.
var ErrInvalidDate = errors.New("folder: invalid date")

func (c Country) validate() error {
	switch c {
	case Canada, UnitedStates:
		return nil
	default:
		return fmt.Errorf("%w: %q", ErrInvalidCountry, c)
	}
}

// Service maps (date, country, workspace) tuples to remote-relative and
// local-absolute paths. It never deletes or renames; it only creates
// intermediate directories. The local root is resolved lazily once per
// Service instance and cached for its lifetime, mirroring the teacher's
// "resolved once, cached for component lifetime" convention for global
// roots initialized at startup.
type Service struct {
	localRootFn func() (string, error)

	once     sync.Once
	rootOnce string
	rootErr  error
}

// New creates a Service. localRootFn is called at most once, the first time
// a local path is resolved — tests inject a temporary root via a closure
// returning t.TempDir().
func New(localRootFn func() (string, error)) *Service {
	return &Service{localRootFn: localRootFn}
}

func (s *Service) localRoot() (string, error) {
	s.once.Do(func() {
		s.rootOnce, s.rootErr = s.localRootFn()
	})

	return s.rootOnce, s.rootErr
}

// RemotePath returns the remote-relative directory for a receipt captured on
// date in country, optionally scoped under a workspace.
func RemotePath(date string, country Country, workspaceID *string) (string, error) {
	if err := country.validate(); err != nil {
		return "", err
	}

	year, month, err := splitDate(date)
	if err != nil {
		return "", err
	}

	segments := []string{}
	if workspaceID != nil && *workspaceID != "" {
		segments = append(segments, "KiraWorkspaces", *workspaceID)
	}

	segments = append(segments, "Receipts", string(country), year, year+"-"+month, date)

	return path.Join(segments...), nil
}

// QuarantinePath returns the remote-relative _Quarantine directory for the
// month containing date.
func QuarantinePath(date string, country Country, workspaceID *string) (string, error) {
	if err := country.validate(); err != nil {
		return "", err
	}

	year, month, err := splitDate(date)
	if err != nil {
		return "", err
	}

	segments := []string{}
	if workspaceID != nil && *workspaceID != "" {
		segments = append(segments, "KiraWorkspaces", *workspaceID)
	}

	segments = append(segments, "Receipts", string(country), year, year+"-"+month, quarantineDir)

	return path.Join(segments...), nil
}

// Resolve returns both the remote-relative path and the absolute local
// mirror path for the given tuple, creating the local directory (and all
// parents) if it does not already exist.
func (s *Service) Resolve(date string, country Country, workspaceID *string) (remoteRelPath, localAbsPath string, err error) {
	remoteRelPath, err = RemotePath(date, country, workspaceID)
	if err != nil {
		return "", "", err
	}

	root, err := s.localRoot()
	if err != nil {
		return "", "", fmt.Errorf("folder: resolving local root: %w", err)
	}

	localAbsPath = filepath.Join(root, filepath.FromSlash(remoteRelPath))

	const dirPerm = 0o700
	if err := os.MkdirAll(localAbsPath, dirPerm); err != nil {
		return "", "", fmt.Errorf("folder: creating %q: %w", localAbsPath, err)
	}

	return remoteRelPath, localAbsPath, nil
}

func splitDate(date string) (year, month string, err error) {
	parts := strings.Split(date, "-")
	if len(parts) != 3 || len(parts[0]) != 4 || len(parts[1]) != 2 || len(parts[2]) != 2 {
		return "", "", fmt.Errorf("%w: %q", ErrInvalidDate, date)
	}

	return parts[0], parts[1], nil
}
