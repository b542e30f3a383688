// Package version holds the semantic version value used to decide whether a
// new gateway resource version must be created.
package version

import (
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode"

	"github.com/Masterminds/semver/v3"

	"github.com/kubot64/apigw-release/internal/definition"
	"github.com/kubot64/apigw-release/internal/gateway"
)

const (
	// Default is used when neither a declared nor a remote version exists.
	Default = "0.0.1"
	// Unknown is the printed form of an unset version.
	Unknown = "?"

	buildMetadataLayout = "20060102150405"
)

var errNoDigits = errors.New("no numeric component")

// Version is a semantic version or the unset value. The zero value is unset.
type Version struct {
	v *semver.Version
	// derived marks a version built by Fix from latest; its build
	// metadata is a timestamp, not part of its identity.
	derived bool
}

// Unset is the absent version.
var Unset = Version{}

// Parse strips any leading non-numeric prefix (e.g. "v", "release-") and
// parses the rest as a semantic version. Blank input yields Unset.
func Parse(raw string) (Version, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return Unset, nil
	}

	s = strings.TrimLeftFunc(s, func(r rune) bool { return !unicode.IsDigit(r) })
	if s == "" {
		return Unset, fmt.Errorf("parse version %q: %w", raw, errNoDigits)
	}

	v, err := semver.NewVersion(s)
	if err != nil {
		return Unset, fmt.Errorf("parse version %q: %w", raw, err)
	}

	return Version{v: v}, nil
}

// MustParse is like Parse but panics on error.
func MustParse(raw string) Version {
	v, err := Parse(raw)
	if err != nil {
		panic(err)
	}

	return v
}

// IsSet reports whether v holds a version.
func (v Version) IsSet() bool {
	return v.v != nil
}

// String returns the canonical form, or Unknown when unset.
func (v Version) String() string {
	if v.v == nil {
		return Unknown
	}

	return v.v.String()
}

// MarshalText implements encoding.TextMarshaler.
func (v Version) MarshalText() ([]byte, error) {
	return []byte(v.String()), nil
}

// Equal compares precedence and build metadata, so a declared 1.0.0+hotfix
// differs from 1.0.0. Metadata is ignored when either side was produced by
// Fix: 1.0.0+20240102030405 from Fix equals 1.0.0. Two unset versions are
// equal.
func (v Version) Equal(o Version) bool {
	if v.v == nil || o.v == nil {
		return v.v == nil && o.v == nil
	}

	if !v.v.Equal(o.v) {
		return false
	}

	return v.derived || o.derived || v.v.Metadata() == o.v.Metadata()
}

// LessThan reports whether v has lower precedence than o. Unset sorts first.
func (v Version) LessThan(o Version) bool {
	switch {
	case o.v == nil:
		return false
	case v.v == nil:
		return true
	default:
		return v.v.LessThan(o.v)
	}
}

// WithBuildMetadata returns a copy of v carrying the given build metadata.
func (v Version) WithBuildMetadata(meta string) Version {
	if v.v == nil {
		return v
	}

	return Version{v: semver.New(v.v.Major(), v.v.Minor(), v.v.Patch(), v.v.Prerelease(), meta)}
}

// FromFields parses primary, falling back to fallback when primary is blank.
func FromFields(primary, fallback string) (Version, error) {
	if strings.TrimSpace(primary) != "" {
		return Parse(primary)
	}

	return Parse(fallback)
}

// FromDefinition extracts the declared version: version first, then title.
func FromDefinition(def definition.Definition) (Version, error) {
	return FromFields(def.Version, def.Title)
}

// FromResourceVersion extracts the version of a remote resource version.
// A nil record yields Unset.
func FromResourceVersion(rv *gateway.ResourceVersion) (Version, error) {
	if rv == nil {
		return Unset, nil
	}

	return FromFields(rv.Version, rv.Title)
}

// Fix reconciles the declared and latest versions:
//
//	current unset, latest unset -> Default, Unset
//	current unset, latest set   -> latest+<now>, latest
//	otherwise                   -> unchanged
//
// The manufactured current version is Equal to latest.
func Fix(current, latest Version, now time.Time) (Version, Version) {
	switch {
	case !current.IsSet() && !latest.IsSet():
		return MustParse(Default), Unset
	case !current.IsSet():
		derived := latest.WithBuildMetadata(now.Format(buildMetadataLayout))
		derived.derived = true

		return derived, latest
	default:
		return current, latest
	}
}
