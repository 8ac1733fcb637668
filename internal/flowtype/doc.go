// Package flowtype resolves whether a flow type is an initiating flow.
//
// Flow types are declared once (in Go or in CUE files) with an optional
// parent type and an optional initiatedBy annotation. NewRegistry walks every
// declaration's parent chain a single time and records the resolved Fact, so
// pushing a frame onto a flow stack is a map lookup rather than a walk.
//
// Declaration CUE layout:
//
//	flow: {
//		PaymentFlow: initiatedBy: {protocol: "payment", version: 1}
//		RetryingPaymentFlow: extends: "PaymentFlow"
//		LookupFlow: {}
//	}
package flowtype
