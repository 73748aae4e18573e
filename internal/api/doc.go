// Package api serves the task queue and settings over HTTP for the on-page
// collaborator: it enqueues selected items, starts drains, edits settings and
// pushes deselect, queue and config events over a websocket.
package api
