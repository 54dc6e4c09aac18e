// Package protocol holds the HTTP vocabulary shared by the server and its
// clients: paths, header names and header values.
package protocol

// Replica endpoints.
const (
	PathInit    = "/init"
	PathGet     = "/commits/get"
	PathPut     = "/commits/put"
	PathStream  = "/commits/stream"
	PathMetrics = "/metrics"
	PathHealth  = "/healthz"
)

// Master endpoints.
const (
	PathMasterGet = "/get"
	PathMasterPut = "/put"
)

// Header names.
const (
	HeaderDocID        = "doc-id"
	HeaderNextCommit   = "next-commit"
	HeaderHead         = "head"
	HeaderSlot         = "slot"
	HeaderCommitStatus = "commit-status"
)

// Values of HeaderCommitStatus.
const (
	StatusAccepted = "accepted"
	StatusDropped  = "dropped"
)
