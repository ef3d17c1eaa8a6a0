// Package playback starts and stops signal output for a received frame.
//
// The Dispatcher runs validators, resolves the header into pipeline
// assignments and applies them to a Backend. Backend notifications arrive on
// other goroutines and are handed off through a Queue.
package playback
