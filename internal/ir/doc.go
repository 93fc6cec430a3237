// Package ir provides the language-neutral intermediate representation for cxxada.
//
// This package contains type definitions, the declaration arena and the
// canonical encodings used for instance keys and digests. All other internal
// packages import ir; ir imports nothing internal. This keeps the IR the
// foundational layer with no circular dependencies.
//
// Key design constraints:
//   - Type references name declarations by qualified path, never by pointer,
//     so the IR can be dumped, hashed and compared structurally.
//   - Template instances are first-class declarations keyed by InstanceKey.
//   - Free template parameters (TypeParam) only appear inside template bodies.
//   - All JSON tags use snake_case.
package ir
