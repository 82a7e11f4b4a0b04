// Package mongo registers MongoDB-backed section storage for fable scenarios.
// Use clients/mongo to build the low-level client and pass it to NewStore to
// obtain a sections.Store that persists scenario content per (scope, section)
// pair across turns and processes.
package mongo
