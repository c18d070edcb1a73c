// Package crawler holds the problem record model, the interfaces that connect
// the fetch, extract, asset and persistence stages, and the small policies
// (retry, robots, sample files) shared by workers and the dispatcher.
package crawler
