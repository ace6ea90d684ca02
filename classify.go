package main

import (
	"cmp"
	"fmt"
	"regexp"
	"strconv"
)

// a toolchain family recognised in package names
type Toolchain string

const (
	MSVC  Toolchain = "msvc"
	MINGW Toolchain = "mingw"
)

// a (major, minor, patch) triple, "5.12.10"
type SemVer struct {
	Major int
	Minor int
	Patch int
}

func (v SemVer) String() string {
	return fmt.Sprintf("%d.%d.%d", v.Major, v.Minor, v.Patch)
}

// returns -1, 0 or 1 if `v` is less than, equal to or greater than `other`.
func (v SemVer) Compare(other SemVer) int {
	if c := cmp.Compare(v.Major, other.Major); c != 0 {
		return c
	}
	if c := cmp.Compare(v.Minor, other.Minor); c != 0 {
		return c
	}
	return cmp.Compare(v.Patch, other.Patch)
}

var semver_pattern = regexp.MustCompile(`^(\d+)\.(\d+)\.(\d+)$`)

// "5.12.10" => SemVer{5, 12, 10}
func parse_semver(s string) (SemVer, error) {
	matches := semver_pattern.FindStringSubmatch(s)
	if matches == nil {
		return SemVer{}, fmt.Errorf("not a semantic version: %q", s)
	}
	return semver_from_strings(matches[1], matches[2], matches[3])
}

func semver_from_strings(major, minor, patch string) (SemVer, error) {
	bits := [3]int{}
	for i, s := range []string{major, minor, patch} {
		n, err := strconv.Atoi(s)
		if err != nil {
			return SemVer{}, fmt.Errorf("bad version component %q: %w", s, err)
		}
		bits[i] = n
	}
	return SemVer{bits[0], bits[1], bits[2]}, nil
}

// a <PackageUpdate> from a manifest
type PackageUpdate struct {
	Name    string `xml:"Name"`
	Version string `xml:"Version"`
}

// the fields extracted from a recognised package name
type NameMatch struct {
	Arch             string
	Toolchain        Toolchain
	ToolchainVersion string
}

// a package that matched both the name and version patterns
type ClassifiedPackage struct {
	NameMatch
	SemVer          SemVer
	ReleaseDateTime string // "202011040843"
	PackageName     string
}

func (p ClassifiedPackage) Path() TreePath {
	return TreePath{
		Version:          p.SemVer.String(),
		Toolchain:        string(p.Toolchain),
		ToolchainVersion: p.ToolchainVersion,
		Arch:             p.Arch,
	}
}

// matches repository folders and package names for a single product, like "qt".
// patterns are compiled once and never modified.
type Classifier struct {
	Prefix        string
	folder_regex  *regexp.Regexp
	name_regex    *regexp.Regexp
	version_regex *regexp.Regexp
}

func NewClassifier(prefix string) *Classifier {
	quoted := regexp.QuoteMeta(prefix)
	return &Classifier{
		Prefix: prefix,

		// qt5_598/
		// qt5_51210/
		// qt6_600/
		folder_regex: regexp.MustCompile(`^` + quoted + `\d_(?P<version>\d+)/$`),

		// qt.qt5.5100.win64_msvc2015_64
		// qt.qt5.5100.win32_mingw53
		// qt.591.win64_msvc2015_64
		// only the start is anchored, trailing text is allowed.
		name_regex: regexp.MustCompile(`^` + quoted + `(\.` + quoted + `\d)?\.\d+\.win(?P<arch>\d{2})_(?P<name>msvc|mingw)(?P<version>\d{2,4})(_\d+)?`),

		// 5.10.0-0-201712041208
		// 5.12.10-0-202011040843
		version_regex: regexp.MustCompile(`^(?P<major>\d+)\.(?P<minor>\d+)\.(?P<patch>\d+)-\d+-(?P<release_date_time>\d{12})$`),
	}
}

// "qt5_5121/" => "5121", true
func (c *Classifier) match_folder(text string) (string, bool) {
	matches := c.folder_regex.FindStringSubmatch(text)
	if matches == nil {
		return "", false
	}
	return matches[c.folder_regex.SubexpIndex("version")], true
}

// "qt.qt5.5121.win64_msvc2019_64" => {64 msvc 2019}, true
func (c *Classifier) match_name(name string) (NameMatch, bool) {
	matches := c.name_regex.FindStringSubmatch(name)
	if matches == nil {
		return NameMatch{}, false
	}
	return NameMatch{
		Arch:             matches[c.name_regex.SubexpIndex("arch")],
		Toolchain:        Toolchain(matches[c.name_regex.SubexpIndex("name")]),
		ToolchainVersion: matches[c.name_regex.SubexpIndex("version")],
	}, true
}

// "5.12.10-0-202011040843" => {5 12 10}, "202011040843"
func (c *Classifier) match_version(version string) (SemVer, string, error) {
	matches := c.version_regex.FindStringSubmatch(version)
	if matches == nil {
		return SemVer{}, "", fmt.Errorf("%w: %q", ErrBadVersion, version)
	}
	semver, err := semver_from_strings(
		matches[c.version_regex.SubexpIndex("major")],
		matches[c.version_regex.SubexpIndex("minor")],
		matches[c.version_regex.SubexpIndex("patch")],
	)
	if err != nil {
		return SemVer{}, "", fmt.Errorf("%w: %q: %w", ErrBadVersion, version, err)
	}
	return semver, matches[c.version_regex.SubexpIndex("release_date_time")], nil
}

// returns the classified package and `true` when the update's name is recognised.
// unrecognised names are skipped (false, nil) but a recognised name with a bad version is an error.
func (c *Classifier) classify(update PackageUpdate) (ClassifiedPackage, bool, error) {
	name_match, ok := c.match_name(update.Name)
	if !ok {
		return ClassifiedPackage{}, false, nil
	}
	semver, release_date_time, err := c.match_version(update.Version)
	if err != nil {
		return ClassifiedPackage{}, false, fmt.Errorf("package %q: %w", update.Name, err)
	}
	return ClassifiedPackage{
		NameMatch:       name_match,
		SemVer:          semver,
		ReleaseDateTime: release_date_time,
		PackageName:     update.Name,
	}, true, nil
}
