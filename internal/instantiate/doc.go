// Package instantiate materializes template instances.
//
// Every concrete template-id of the headers reaches the engine as a request
// on the module. The engine normalizes the argument list, selects the
// definition (full specialization, then the most specialized matching
// partial specialization, then the primary template), substitutes the
// arguments through it and registers the resulting class or function on
// the module under its instance key.
//
// ARCHITECTURE:
//
// Breadth-first waves:
// Requests are processed in waves. A wave materializes its requests
// concurrently, bounded by Options.Jobs, then publishes the results in key
// order; the requests discovered while substituting form the next wave.
// A request records how deep in the chain of requests it was found, and the
// depth quota stops chains that never close.
//
// Shared cache:
// Materialization is a pure function of the template declaration and the
// normalized argument list, so its result is cached by instance key.
// Concurrent requests for one key share a single computation and every
// later request reads the stored result.
//
// Constants that need a layout:
// sizeof and alignof of an instance that is not published yet cannot be
// folded. Such a materialization is not cached; it is retried in a later
// wave once what it waits on exists.
//
// Failure propagation:
// After the last wave the by-value containment graph between instances is
// checked for cycles. A failed instance is withdrawn from the module along
// with every instance that contains it by value. Declarations that still
// refer to a withdrawn instance are reported, so nothing is dropped
// silently.
package instantiate
