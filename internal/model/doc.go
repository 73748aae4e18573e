package model

// Package model defines domain data structures shared across the app: resolved
// items and their asset variants, queue entries, backend profiles, and the
// resolution state enum. Transitions between states are explicit.
