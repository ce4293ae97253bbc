// Package version provides semantic version checks for the installer daemon.
package version

import (
	"errors"
	"fmt"
	"strings"

	"github.com/Masterminds/semver/v3"
)

// String constants for operations (used in ErrVersionParseFailed)
const (
	OpParseMinimum  = "parse_minimum"
	OpParseReported = "parse_reported"
)

// DevelopmentBuild is what a butler built from source reports as its version.
const DevelopmentBuild = "head"

var ErrInvalidVersion = errors.New("invalid version format")

// ErrVersionParseFailed represents a version parsing error
type ErrVersionParseFailed struct {
	Version string
	Op      string
	Cause   error
}

func (e ErrVersionParseFailed) Error() string {
	return fmt.Sprintf("failed to parse version %s in operation %s: %v", e.Version, e.Op, e.Cause)
}

func (e ErrVersionParseFailed) Unwrap() error {
	return e.Cause
}

func (e ErrVersionParseFailed) Is(target error) bool {
	if target == ErrInvalidVersion {
		return true
	}
	var parseErr ErrVersionParseFailed
	return errors.As(target, &parseErr)
}

// ErrVersionTooOld is returned when the daemon is older than the configured minimum.
type ErrVersionTooOld struct {
	Reported string
	Minimum  string
}

func (e ErrVersionTooOld) Error() string {
	return fmt.Sprintf("butler %s is older than required minimum %s", e.Reported, e.Minimum)
}

// Validator provides version validation using semver
type Validator interface {
	// CheckMinimum returns nil when reported >= minimum.
	// An empty minimum or a development build always passes.
	CheckMinimum(reported, minimum string) error
}

type semverValidator struct{}

// New creates a new version validator
func New() Validator {
	return &semverValidator{}
}

// Normalize extracts the semver part of a daemon version string such as
// "v15.21.0, built on Oct 21 2021 @ 14:37:12, ref 1d6c8ab".
func Normalize(v string) string {
	v = strings.TrimSpace(v)
	if i := strings.IndexAny(v, ", "); i >= 0 {
		v = v[:i]
	}
	return v
}

// IsDevelopmentBuild reports whether v names a build without a release version.
func IsDevelopmentBuild(v string) bool {
	return strings.EqualFold(Normalize(v), DevelopmentBuild)
}

func (v *semverValidator) CheckMinimum(reported, minimum string) error {
	if strings.TrimSpace(minimum) == "" || IsDevelopmentBuild(reported) {
		return nil
	}

	minVer, err := semver.NewVersion(Normalize(minimum))
	if err != nil {
		return ErrVersionParseFailed{Version: minimum, Op: OpParseMinimum, Cause: err}
	}
	have, err := semver.NewVersion(Normalize(reported))
	if err != nil {
		return ErrVersionParseFailed{Version: reported, Op: OpParseReported, Cause: err}
	}

	if have.LessThan(minVer) {
		return ErrVersionTooOld{Reported: have.Original(), Minimum: minVer.Original()}
	}
	return nil
}
