// Package harness runs scripted session scenarios against a fresh
// in-memory store.
//
// # Scenario Format
//
// Scenarios are YAML files:
//
//	name: demo
//	description: "What this scenario validates"
//	schema: schema.cue          # optional, relative to the file
//	conventions:                # optional
//	  identity: uuid            # server (default) or uuid
//	  max_requests: 10
//	  optimistic_concurrency: false
//	steps:
//	  - store: {ref: john, collection: users, body: {name: John Doe, age: 35}}
//	  - save_changes: true
//	    expect: {ids: [users/1-A]}
//	  - session: other
//	    load: {id: users/1-A, ref: j}
//	    expect: {found: true, body: {age: 35}}
//	  - session: other
//	    modify: {ref: j, set: {age: 36}}
//	  - query:
//	      collection: users
//	      build:
//	        - {op: gt, field: age, value: 20}
//	        - {op: and}
//	        - {op: ends_with, field: name, value: Doe}
//	    expect: {count: 1, text: "from users where age > $p0 and endsWith(name, $p1)"}
//	assertions:
//	  - {type: document, id: users/1-A, expect: {age: 35}}
//	  - {type: count, collection: users, count: 1}
//
// Each step runs one session call in the named session (default "main");
// sessions open on first use. Without an expect clause a step must
// succeed; expect.error names the error code a step must fail with.
//
// # Assertion Types
//
//   - document: the stored document holds the expected fields
//   - absent: the document does not exist
//   - count: the collection holds exactly count documents
//   - requests: the session sent exactly count requests
//   - step_count: exactly count steps of op succeeded
//
// # Deterministic Traces
//
// Every step adds a TraceEvent: session, op, compiled query text and
// parameters, identifiers, projection rows, error code and the session's
// request count. Session and UUID identifiers come from sequence
// generators and server identities from a fresh store, so the canonical
// JSON trace is stable and compared against golden files.
//
// RunFiles runs many scenario files concurrently on an ants worker pool.
package harness
