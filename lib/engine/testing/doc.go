// Package testing provides standardised tests and benchmarks for
// container implementations that satisfy the engine.Container interface.
//
// The package contains:
//   - testing: A test suite for validating conformance to the Container interface contract
//   - benchmark: Performance tests for measuring throughput of common container operations
//
// This package is particularly useful for:
//   - Applications that need to select the most appropriate container
//     implementation based on performance characteristics
//   - Developers implementing the Container interface
//
// Example usage:
//
//	// Creating a factory function for your implementation
//	factory := func() engine.Container {
//		return NewMyContainer()
//	}
//
//	// Running the standard test suite
//	enginetesting.RunContainerTests(t, "MyContainer", factory)
//
//	// Running performance benchmarks
//	enginetesting.RunContainerBenchmarks(b, "MyContainer", factory)
package testing
