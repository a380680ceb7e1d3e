// Package lifecycle owns runner instances and drives their load, unload and
// model-switch transitions.
//
// Each runner gets one Controller. Load and unload on a controller are
// serialized; executions hold a shared lease, so a load waits for in-flight
// requests on the current model and new requests wait for the load.
package lifecycle
