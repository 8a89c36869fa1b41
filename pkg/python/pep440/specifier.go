// Copyright (C) 2022  Ambassador Labs
//
// SPDX-License-Identifier: Apache-2.0

package pep440

import (
	"fmt"
	"strings"
)

// Specifier is a version specifier: a comma-separated series of clauses, all
// of which a candidate version must match.
//
//	~=0.9, >=1.0, != 1.3.4.*, <2.0
type Specifier []SpecifierClause

// SpecifierClause is a single comparison clause within a Specifier.
//
// For every operator except CmpOpArbitrary the parsed Version is what gets
// compared; for CmpOpArbitrary (the "===" escape hatch, a plain string
// comparison) only Raw is meaningful.
type SpecifierClause struct {
	CmpOp   CmpOp
	Version Version
	Raw     string
}

type CmpOp int

const (
	CmpOpCompatible CmpOp = iota // ~=
	CmpOpStrictMatch
	CmpOpPrefixMatch // ==X.Y.*
	CmpOpStrictExclude
	CmpOpPrefixExclude // !=X.Y.*
	CmpOpLE
	CmpOpGE
	CmpOpLT
	CmpOpGT
	CmpOpArbitrary // ===
	_CmpOpEnd
)

func (op CmpOp) String() string {
	str, ok := map[CmpOp]string{
		CmpOpCompatible:    "~=",
		CmpOpStrictMatch:   "strict ==",
		CmpOpPrefixMatch:   "prefix ==",
		CmpOpStrictExclude: "strict !=",
		CmpOpPrefixExclude: "prefix !=",
		CmpOpLE:            "<=",
		CmpOpGE:            ">=",
		CmpOpLT:            "<",
		CmpOpGT:            ">",
		CmpOpArbitrary:     "===",
	}[op]
	if !ok {
		panic(fmt.Errorf("invalid CmpOp: %d", op))
	}
	return str
}

// ParseSpecifier parses a version specifier string; an empty or all-blank
// string is the empty Specifier, which matches everything.
func ParseSpecifier(str string) (Specifier, error) {
	clauseStrs := strings.FieldsFunc(str, func(r rune) bool { return r == ',' })
	ret := make(Specifier, 0, len(clauseStrs))
	for _, clauseStr := range clauseStrs {
		clauseStr = strings.TrimSpace(clauseStr)
		if clauseStr == "" {
			continue
		}
		clause, err := parseSpecifierClause(clauseStr)
		if err != nil {
			return nil, fmt.Errorf("pep440.ParseSpecifier: %w", err)
		}
		ret = append(ret, clause)
	}
	return ret, nil
}

// MustParseSpecifier is like ParseSpecifier, but panics instead of returning
// an error.  For use with hard-coded strings.
func MustParseSpecifier(str string) Specifier {
	spec, err := ParseSpecifier(str)
	if err != nil {
		panic(err)
	}
	return spec
}

func parseSpecifierClause(str string) (SpecifierClause, error) {
	var ret SpecifierClause
	str = strings.TrimSpace(str)
	minSegments := 1
	devOK := true
	localOK := false
	switch {
	case strings.HasPrefix(str, "==="):
		ret.CmpOp = CmpOpArbitrary
		ret.Raw = strings.TrimSpace(str[3:])
		if ret.Raw == "" {
			return ret, fmt.Errorf("empty version in === specifier clause")
		}
		return ret, nil
	case strings.HasPrefix(str, "~="):
		ret.CmpOp = CmpOpCompatible
		str = str[2:]
		minSegments = 2
	case strings.HasPrefix(str, "=="):
		ret.CmpOp = CmpOpStrictMatch
		str = str[2:]
		localOK = true
		if strings.HasSuffix(str, ".*") {
			ret.CmpOp = CmpOpPrefixMatch
			str = strings.TrimSuffix(str, ".*")
			devOK = false
			localOK = false
		}
	case strings.HasPrefix(str, "!="):
		ret.CmpOp = CmpOpStrictExclude
		str = str[2:]
		localOK = true
		if strings.HasSuffix(str, ".*") {
			ret.CmpOp = CmpOpPrefixExclude
			str = strings.TrimSuffix(str, ".*")
			devOK = false
			localOK = false
		}
	case strings.HasPrefix(str, "<="):
		ret.CmpOp = CmpOpLE
		str = str[2:]
	case strings.HasPrefix(str, ">="):
		ret.CmpOp = CmpOpGE
		str = str[2:]
	case strings.HasPrefix(str, "<"):
		ret.CmpOp = CmpOpLT
		str = str[1:]
	case strings.HasPrefix(str, ">"):
		ret.CmpOp = CmpOpGT
		str = str[1:]
	default:
		return ret, fmt.Errorf("invalid comparison operator: %q", str)
	}
	ver, err := ParseVersion(str)
	if err != nil {
		return ret, err
	}
	if len(ver.Release) < minSegments {
		return ret, fmt.Errorf("at least %d release segments required in %s specifier clauses",
			minSegments, ret.CmpOp)
	}
	if ver.Dev != nil && !devOK {
		return ret, fmt.Errorf("dev-part not permitted in %s specifier clauses", ret.CmpOp)
	}
	if len(ver.Local) > 0 && !localOK {
		return ret, fmt.Errorf("local-part not permitted in %s specifier clauses", ret.CmpOp)
	}
	ret.Version = *ver
	return ret, nil
}

func (spec SpecifierClause) String() string {
	opStr, ok := map[CmpOp]string{
		CmpOpCompatible:    "~=",
		CmpOpStrictMatch:   "==",
		CmpOpPrefixMatch:   "==",
		CmpOpStrictExclude: "!=",
		CmpOpPrefixExclude: "!=",
		CmpOpLE:            "<=",
		CmpOpGE:            ">=",
		CmpOpLT:            "<",
		CmpOpGT:            ">",
		CmpOpArbitrary:     "===",
	}[spec.CmpOp]
	if !ok {
		panic(fmt.Errorf("invalid CmpOp: %d", spec.CmpOp))
	}
	switch spec.CmpOp {
	case CmpOpArbitrary:
		return opStr + spec.Raw
	case CmpOpPrefixMatch, CmpOpPrefixExclude:
		return opStr + spec.Version.String() + ".*"
	default:
		return opStr + spec.Version.String()
	}
}

func (spec Specifier) String() string {
	clauses := make([]string, 0, len(spec))
	for _, clause := range spec {
		clauses = append(clauses, clause.String())
	}
	return strings.Join(clauses, ",")
}

// Match reports whether ver satisfies the clause.
func (spec SpecifierClause) Match(ver Version) bool {
	if spec.CmpOp == CmpOpArbitrary {
		return strings.EqualFold(ver.String(), spec.Raw)
	}
	fn, ok := map[CmpOp]func(spec, ver Version) bool{
		CmpOpCompatible:    matchCompatible,
		CmpOpStrictMatch:   matchStrictMatch,
		CmpOpPrefixMatch:   matchPrefixMatch,
		CmpOpStrictExclude: matchStrictExclude,
		CmpOpPrefixExclude: matchPrefixExclude,
		CmpOpLE:            matchLE,
		CmpOpGE:            matchGE,
		CmpOpLT:            matchLT,
		CmpOpGT:            matchGT,
	}[spec.CmpOp]
	if !ok {
		panic(fmt.Errorf("invalid CmpOp: %d", spec.CmpOp))
	}
	return fn(spec.Version, ver)
}

// Match reports whether ver satisfies every clause in the specifier.  Match
// applies the clause comparisons only; for the "implicitly exclude
// pre-releases" selection rule, see Select.
func (spec Specifier) Match(ver Version) bool {
	for _, clause := range spec {
		if !clause.Match(ver) {
			return false
		}
	}
	return true
}

// MentionsPreRelease reports whether any clause in the specifier names a
// pre-release version.  Per PEP 440, a specifier that does so opts candidate
// pre-releases back in to consideration.
func (spec Specifier) MentionsPreRelease() bool {
	for _, clause := range spec {
		if clause.CmpOp != CmpOpArbitrary && clause.Version.IsPreRelease() {
			return true
		}
	}
	return false
}

// matchCompatible handles "~=": for "~=V.N", ">=V.N, ==V.*" with any
// pre/post/dev suffix on V.N ignored for the prefix half.
func matchCompatible(spec, ver Version) bool {
	prefix := spec
	prefix.Release = prefix.Release[:len(prefix.Release)-1]
	prefix.Pre = nil
	prefix.Post = nil
	prefix.Dev = nil
	return matchGE(spec, ver) && matchPrefixMatch(prefix, ver)
}

// matchStrictMatch handles "==" without a wildcard.  A spec with no local
// label ignores the candidate's local label; a spec with one requires
// equality on it.
func matchStrictMatch(spec, ver Version) bool {
	if len(spec.Local) == 0 {
		return spec.PublicVersion.Cmp(ver.PublicVersion) == 0
	}
	return spec.Cmp(ver) == 0
}

// matchPrefixMatch handles "==X.Y.*": candidate segments beyond the written
// prefix are ignored.  The written prefix may end in the release segment, the
// pre-release segment, or the post-release segment (a trailing ".dev" or
// local label is rejected at parse time).
func matchPrefixMatch(spec, ver Version) bool {
	specPub, verPub := spec.PublicVersion, ver.PublicVersion
	const (
		partRel = iota
		partPre
		partPost
	)
	var terminalPart int
	switch {
	case specPub.Post != nil:
		terminalPart = partPost
	case specPub.Pre != nil:
		terminalPart = partPre
	default:
		terminalPart = partRel
	}

	if cmpEpoch(specPub, verPub) != 0 {
		return false
	}

	if terminalPart == partRel {
		if len(verPub.Release) > len(specPub.Release) {
			verPub.Release = verPub.Release[:len(specPub.Release)]
		}
	}
	if cmpRelease(specPub, verPub) != 0 {
		return false
	}
	if terminalPart == partRel {
		return true
	}

	// Not cmpPreRelease: that also takes .Post and .Dev into account.
	if (verPub.Pre == nil) != (specPub.Pre == nil) {
		return false
	} else if specPub.Pre != nil && (preReleaseOrder[verPub.Pre.L] != preReleaseOrder[specPub.Pre.L] ||
		verPub.Pre.N != specPub.Pre.N) {
		return false
	}
	if terminalPart == partPre {
		return true
	}

	if cmpPostRelease(specPub, verPub) != 0 {
		return false
	}
	if terminalPart == partPost {
		return true
	}

	panic("not reached")
}

func matchStrictExclude(spec, ver Version) bool {
	return !matchStrictMatch(spec, ver)
}

func matchPrefixExclude(spec, ver Version) bool {
	return !matchPrefixMatch(spec, ver)
}

func matchLE(spec, ver Version) bool {
	return spec.Cmp(ver) >= 0
}

func matchGE(spec, ver Version) bool {
	return spec.Cmp(ver) <= 0
}

func matchLT(spec, ver Version) bool {
	return spec.Cmp(ver) > 0
}

func matchGT(spec, ver Version) bool {
	return spec.Cmp(ver) < 0
}

// ExclusionBehavior is a filter on otherwise-matching candidate versions.
// Select prefers candidates that the behavior allows, but will fall back to
// a disallowed candidate rather than come up empty.
type ExclusionBehavior interface {
	Allow(Version) bool
}

// AllowAll is an ExclusionBehavior that allows everything.
type AllowAll struct{}

func (AllowAll) Allow(_ Version) bool { return true }

// ExcludePreReleases is an ExclusionBehavior implementing PEP 440's "handling
// of pre-releases": pre-releases (including dev releases) are excluded unless
// on the AllowList (e.g. already installed).
type ExcludePreReleases struct {
	AllowList []Version
}

func (prereleases ExcludePreReleases) Allow(ver Version) bool {
	if !ver.IsPreRelease() {
		return true
	}
	for _, item := range prereleases.AllowList {
		if item.Cmp(ver) == 0 {
			return true
		}
	}
	return false
}

// MultiExcluder ANDs multiple ExclusionBehaviors together, only allowing a
// version if all of the behaviors allow it.
type MultiExcluder []ExclusionBehavior

func (m MultiExcluder) Allow(ver Version) bool {
	for _, e := range m {
		if !e.Allow(ver) {
			return false
		}
	}
	return true
}

// Select returns the best of the matching candidate versions: the highest
// allowed one, or, when the exclusion behavior disallows every match, the
// highest disallowed one (a pre-release is better than nothing).  Select
// returns nil when no candidate matches at all.
func (spec Specifier) Select(choices []Version, exclusionBehavior ExclusionBehavior) *Version {
	var best *Version
	var bestExcluded *Version
	for _, choice := range choices {
		if !spec.Match(choice) {
			continue
		}
		if exclusionBehavior == nil || exclusionBehavior.Allow(choice) {
			if best == nil || best.Cmp(choice) < 0 {
				val := choice
				best = &val
			}
		} else {
			if bestExcluded == nil || bestExcluded.Cmp(choice) < 0 {
				val := choice
				bestExcluded = &val
			}
		}
	}
	if best != nil {
		return best
	}
	return bestExcluded
}
