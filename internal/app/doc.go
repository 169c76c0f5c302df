// Package app contains the core application logic. It defines the main App
// struct, its configuration, and the run lifecycle: build a backend from the
// loaded model, run the jobs, then run the completion-checked stages. It is
// decoupled from any specific entrypoint like a CLI.
package app
