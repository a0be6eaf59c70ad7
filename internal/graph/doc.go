// Package graph holds the agent graph edited on the canvas: its node and edge
// types, the canonical JSON encoding stored on a workflow, and the lookup that
// derives the execution configuration from the first process node.
//
// Graphs are never validated at construction time. Dangling edges, duplicate
// ids and unknown node kinds pass through encode/decode untouched and are
// ignored by lookups.
package graph
