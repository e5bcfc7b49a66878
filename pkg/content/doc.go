/*
Package content caches the last persisted body and title per document.

The update intake consults HasChanged before enqueueing persistence, which
makes duplicate saves free; the queue worker refreshes the entry after
every successful write. The check fails safe: a cache miss or store error
answers "changed", trading a redundant write for never losing one.
*/
package content
