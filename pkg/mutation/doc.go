// Package mutation implements the annotation injection decision.
//
// Given the annotations carried by an incoming object and the operator's
// overwrite policy, the [Engine] produces at most one RFC 6902 JSON Patch
// operation that ensures the object carries
//
//	example.com/injected: "true"
//
// The decision is a pure function of its inputs. The engine reads no process
// state, performs no I/O and is safe for concurrent use; the overwrite policy
// is fixed when the engine is constructed.
//
// # Annotation states
//
// Annotations are passed as a map[string]string with three meaningful states:
//
//   - nil: the object has no annotations container at all. The whole
//     container is added at /metadata/annotations.
//   - non-nil without the target key (including an empty map): a single key
//     is added inside the existing container.
//   - non-nil with the target key: nothing happens when the value already
//     matches; otherwise the value is replaced only when overwrite is enabled.
//
// # JSON Pointer paths
//
// The target key contains a '/', which RFC 6901 requires to be written as
// "~1" inside a pointer segment. The engine escapes by default. Setting
// [Options.LegacyUnescapedPaths] reproduces the historical unescaped path
// (/metadata/annotations/example.com/injected) for deployments that depend
// on it; strict patch appliers reject that path when the "example.com"
// segment does not exist.
package mutation
