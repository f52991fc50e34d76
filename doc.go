// Package sigstreams is a hardware-control middleware core: an
// asynchronous, backend-agnostic signal abstraction for reading, writing
// and monitoring control points on remote instrumentation, a composable
// device tree that connects those signals, and an acquisition engine that
// drives multi-stage detectors through a fixed verb protocol while
// batching continuously produced frames into bounded, indexed
// notifications.
//
// # Architecture
//
// The packages layer leaf-first:
//
//	┌─────────────────────────────────────┐
//	│       StandardDetector              │  Verb state machine
//	│  (stage, prepare, kickoff, ...)     │  Flush-period batching
//	└─────────────────────────────────────┘
//	           ↓ composes
//	┌─────────────────────────────────────┐
//	│  TriggerLogic / ArmLogic / DataLogic│  Replaceable behaviors
//	└─────────────────────────────────────┘
//	           ↓ drive
//	┌─────────────────────────────────────┐
//	│       Devices and Signals           │  Named tree, fan-out connect
//	└─────────────────────────────────────┘
//	           ↓ speak to
//	┌─────────────────────────────────────┐
//	│          Backends                   │  Soft, mock, NATS KV, ...
//	└─────────────────────────────────────┘
//
// Wire protocols, plan execution and file formats are external
// collaborators, reached only through the Backend and DataProvider
// contracts. sigstreams orchestrates when those operations happen and how
// their completion is reported; it never performs file I/O itself.
//
// # Concurrency model
//
// Every blocking operation takes a context.Context. Operations issued
// sequentially against the same Signal complete in issue order;
// operations against different Signals are unordered unless explicitly
// joined. Cancellation propagates into backend calls and never leaves a
// signal with a half-mutated cache.
package sigstreams
