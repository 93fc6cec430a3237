// Package emit renders a resolved module as Ada 2012 package specs.
//
// Each C++ namespace becomes one package; nested classes are flattened into
// the package of their namespace and template instances take their
// synthetic names. Records carry representation clauses taken from the
// resolved layouts, so the Ada view matches the Itanium layout bit for bit.
// Functions and variables are imported by their external names.
//
// Units reference each other with with clauses, or limited with clauses
// when a package only designates the other's types through access types.
// Within a unit, types are declared after the types they hold by value;
// records reached through an access type before their declaration get an
// incomplete declaration at the top of the package.
package emit
