// Package app contains the core application logic. It turns a loaded
// configuration model into a scene, a shader binding table and a renderer,
// runs the frame, and owns the process-level services around it: the
// health/status server, the progress sinks and the image writer. It is
// decoupled from any specific entrypoint like a CLI.
package app
