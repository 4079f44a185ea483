// Package factory ships ready-made lifecycle policies for common resources:
// dedicated Redis connections and a rate-limiting decorator that protects a
// flapping backend from creation storms.
package factory
