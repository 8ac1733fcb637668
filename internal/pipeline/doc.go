// Package pipeline drives checkpoints through processing passes.
//
// A pass loads a flow's checkpoint from the store (or creates it for a
// start event), hands it to a Processor together with the event, and then
// settles the outcome:
//
//   - success: the retry ledger is cleared and the checkpoint is saved, or
//     deleted when the processor marked the flow finished
//   - transient failure: flow state is rolled back, the failure is recorded
//     on the pipeline state, and the rolled-back checkpoint is saved with the
//     carried retry ledger; exceeding max_retries turns the failure fatal
//   - any other failure: the checkpoint is marked deleted and removed
//
// Each pass builds a fresh checkpoint.PipelineState from config and the
// persisted ledger, so the sleep ceiling resets to its baseline every pass.
//
// # Thread Safety
//
// Driver follows a single-writer model: Run must be called from exactly one
// goroutine, while Enqueue and NewFlowID are safe from any goroutine.
package pipeline
