// Package dispatch sends resolved items to a download backend.
//
// Before anything is sent the item passes three guards: no known file-host
// link in its description, not hosted externally, and Source quality
// available. The backend is then picked from the active profile: the system
// browser, an aria2 JSON-RPC endpoint over HTTP or websocket, or the
// companion downloader. Failures are reported once and never retried.
package dispatch
