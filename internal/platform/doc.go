package platform

// Package platform contains OS integration glue: file name sanitising,
// data directory lookup, and opening URLs in the system browser.
