// Package harness runs verification cases against the generator.
//
// # Case Format
//
// Cases are YAML files:
//
//	name: box_int
//	description: "Box<int> is instantiated once and laid out like an int"
//	tier: integration
//	source: |
//	  template <typename T> struct Box { T value; T get() const; };
//	  Box<int> b;
//	options:
//	  root_package: Lib
//	expect:
//	  clean: true
//	  instances: ["Box<int>"]
//	  symbols:
//	    "Box<int>::get() const": _ZNK3BoxIiE3getEv
//	  layouts:
//	    "Box<int>": { size: 4, align: 4, fields: { value: 0 } }
//	  units: [lib.ads]
//	  emitted:
//	    Lib: ["type Box_int is record"]
//
// A case supplies its headers either inline (source) or as files relative
// to the case file (headers).
//
// # Tiers
//
//   - parser: parse and build the IR; checks diagnostics and decls
//   - unit: run through symbol and layout resolution
//   - integration: run the whole pipeline including emission
//   - validation: as integration, then compare the resolved symbols with
//     what the host C++ compiler produces and compile the generated specs
//     with GNAT; skipped when the tools are not installed
//
// # Golden Files
//
// RunWithGolden snapshots the output of a case as canonical JSON under
// testdata/golden/<name>.golden. Regenerate with:
//
//	go test ./... -update
package harness
