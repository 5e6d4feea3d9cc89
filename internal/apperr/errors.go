// Package apperr defines the sentinel error kinds named in the indexer's
// error handling design: ParseError, SchemaMismatch, TransientDbError,
// FatalDbError, FormulaError, WebhookEvalError and DeliveryError all wrap
// one of these so callers can branch on kind with errors.Is.
package apperr

import "errors"

var (
	// ErrUnknownFormula is returned by the query path for an unregistered formula name.
	ErrUnknownFormula = errors.New("unknown formula")
	// ErrContractNotFound is returned when a formula targets a contract never observed.
	ErrContractNotFound = errors.New("contract not found")
	// ErrNoEvents is returned when a contract is known but has produced
	// no event at or before the block height a query is pinned to.
	ErrNoEvents = errors.New("no events for contract")
	// ErrNotYetIndexed is returned when a query targets a block beyond the indexed tip.
	ErrNotYetIndexed = errors.New("block not yet indexed")

	// ErrParse marks a stream record that failed structural validation.
	ErrParse = errors.New("parse error")
	// ErrSchemaMismatch marks a stream record missing a required field.
	ErrSchemaMismatch = errors.New("schema mismatch")

	// ErrTransientDB marks a retryable database conflict (deadlock, serialization failure).
	ErrTransientDB = errors.New("transient database error")
	// ErrFatalDB marks a database error that survived retries and must halt the pipeline.
	ErrFatalDB = errors.New("fatal database error")

	// ErrFormula marks a caught error raised during formula evaluation.
	ErrFormula = errors.New("formula evaluation error")
	// ErrWebhookEval marks a caught error raised while evaluating a webhook subscription.
	ErrWebhookEval = errors.New("webhook evaluation error")
	// ErrDelivery marks a caught error raised while delivering a webhook.
	ErrDelivery = errors.New("webhook delivery error")
	// ErrPermanentDelivery marks a delivery failure that retrying cannot
	// fix (e.g. an endpoint kind the dispatcher doesn't know how to
	// send); the pending row must be dropped rather than retried.
	ErrPermanentDelivery = errors.New("permanent webhook delivery error")
)
