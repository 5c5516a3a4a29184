// Package audithook is an extension that turns lease and workflow
// lifecycle events into an audit trail of who owned which workflow and
// under which epoch.
//
// Every hook emits a structured [AuditEvent] through the [Recorder]
// interface with a severity (info for normal ownership changes, warning
// for refused claims and cancellations, critical for lost leases and
// failed workflows) and metadata such as the epoch, runner and claim path.
//
// # Usage
//
//	runner.New(store, registry, cfg,
//	    runner.WithExtension(audithook.New(audithook.LogRecorder(logger))),
//	)
//
// # Selective filtering
//
//	audithook.New(recorder,
//	    audithook.WithActions(
//	        audithook.ActionLeaseLost,
//	        audithook.ActionWorkflowClosed,
//	    ),
//	)
package audithook
