// Package deletionexecutor consumes approved deletion decisions and performs
// the ordered, resumable deletion of the target across dependent stores.
package deletionexecutor
