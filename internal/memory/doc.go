// Package memory observes process memory and applies backpressure to
// ingestion.
//
// A Governor reads heap usage through a Probe and classifies it as
// Normal, Warning or Critical. The indexer calls Checkpoint before each
// file and each embedding batch:
//
//	gov := memory.New(memory.DefaultConfig())
//	if err := gov.Checkpoint(ctx); err != nil {
//	    // errors.Is(err, types.ErrMemoryPressure): skip the file
//	}
//
// At Warning the governor asks the runtime to reclaim memory. At Critical
// it also waits, polling until usage drops or the configured maximum wait
// elapses, and only then reports pressure.
package memory
