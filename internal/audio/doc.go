// Package audio plays synthesized speech and sound clips one at a time.
//
// The player task pops clips from a Notify-Queue and hands them to a Backend.
// Stop cancels only the clip that is playing; queued clips still play.
package audio
