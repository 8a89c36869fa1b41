// Package pep440 implements PEP 440 -- Version Identification and Dependency
// Specification.
//
// That is: parsing, normalizing, and ordering Python package version numbers,
// and evaluating version specifier sets such as "~=0.9,>=1.0,!=1.3.4.*,<2.0"
// against them.
//
// https://www.python.org/dev/peps/pep-0440/
package pep440
