// Package mediasource selects the demo media for a playback session and
// loads it into source buffers.
//
// A Selection is built from one Content tag per track. Encrypted audio and
// video may be combined freely; clear audio is only available alongside
// encrypted video because the clear tracks are the trailers' own audio.
// Clear video is never offered.
package mediasource
