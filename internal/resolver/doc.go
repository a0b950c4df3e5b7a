// Package resolver turns redirect-wrapped aggregator links into their final
// destination URLs.
//
// An Engine answers from its cache first. On a miss it passes links whose host
// is not a configured redirect host straight through. Links on a redirect host
// are sent to a Worker. The production ProcessWorker re-executes the binary in
// worker mode in its own process group. The child drives headless Chrome
// through chromedp, reports the post-navigation location as one JSON response
// on stdout, and is killed with its whole process group when the deadline
// passes. Every miss ends with exactly one cache write keyed by the input URL.
// Failures of any kind degrade to the original link.
package resolver
