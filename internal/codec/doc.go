// Package codec decodes and re-encodes image pixels for the conversion engine.
//
// The engine treats a Codec as an external collaborator: Decode turns source
// bytes into an image.Image after checking the configured dimension limits,
// and Encode writes that image in the target container. Failures are reported
// as *Error values carrying a short machine-readable Reason so the engine can
// log and retry them uniformly.
package codec
