// Package deadletterservice stores events that exhausted delivery retries and
// exposes them for operator triage and explicit, audited reprocessing.
package deadletterservice
